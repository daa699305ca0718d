package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/recipedex/internal/domain"
)

type yamlFile struct {
	Recipes []yamlRecipe `yaml:"recipes"`
}

type yamlRecipe struct {
	ID           string           `yaml:"id"`
	Title        string           `yaml:"title"`
	Tags         []string         `yaml:"tags"`
	Ingredients  []yamlIngredient `yaml:"ingredients"`
	Macros       yamlMacros       `yaml:"macros"`
	Instructions []string         `yaml:"instructions"`
}

type yamlIngredient struct {
	Name  string   `yaml:"name"`
	Grams *float64 `yaml:"grams"`
}

type yamlMacros struct {
	Kcal     *float64 `yaml:"kcal"`
	ProteinG *float64 `yaml:"protein_g"`
	CarbsG   *float64 `yaml:"carbs_g"`
	FatG     *float64 `yaml:"fat_g"`
	FiberG   *float64 `yaml:"fiber_g"`
}

// LoadYAML reads a catalog file of the form
//
//	recipes:
//	  - id: "1"
//	    title: Overnight oats
//	    tags: [breakfast, vegan]
//	    ingredients: [{name: oats, grams: 60}]
//	    macros: {kcal: 385, protein_g: 18.7}
//	    instructions: [Mix everything., Chill overnight.]
func LoadYAML(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes catalog YAML. Unknown fields are rejected.
func ParseYAML(data []byte) (*Memory, error) {
	var f yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	recipes := make([]domain.Recipe, len(f.Recipes))
	for i, yr := range f.Recipes {
		r := domain.Recipe{
			ID:           yr.ID,
			Title:        yr.Title,
			Tags:         yr.Tags,
			Instructions: yr.Instructions,
			Macros: domain.Macros{
				Kcal:     yr.Macros.Kcal,
				ProteinG: yr.Macros.ProteinG,
				CarbsG:   yr.Macros.CarbsG,
				FatG:     yr.Macros.FatG,
				FiberG:   yr.Macros.FiberG,
			},
		}
		for _, ing := range yr.Ingredients {
			r.Ingredients = append(r.Ingredients, domain.Ingredient{Name: ing.Name, Grams: ing.Grams})
		}
		recipes[i] = r
	}
	return NewMemory(recipes...)
}
