package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/kailas-cloud/recipedex/internal/db"
	"github.com/kailas-cloud/recipedex/internal/domain"
)

// SQLite reads recipes from an existing database with the tables
// recipe(id, title, tags, instructions_json, macros_*) and
// recipeitem(recipe_id, name, grams). The database is opened read-only.
type SQLite struct {
	db       *sql.DB
	limit    int
	hasFiber bool
}

// SQLiteConfig configures the reader. Limit caps List to the newest recipes; 0 means no cap.
type SQLiteConfig struct {
	Path  string
	Limit int
}

// OpenSQLite opens the catalog database read-only.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	dsn := "file:" + cfg.Path + "?mode=ro&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &db.Error{Op: db.OpOpen, Err: err}
	}

	hasFiber, err := hasColumn(sqlDB, "recipe", "macros_fiber_g")
	if err != nil {
		sqlDB.Close()
		return nil, &db.Error{Op: db.OpOpen, Err: err}
	}
	return &SQLite{db: sqlDB, limit: cfg.Limit, hasFiber: hasFiber}, nil
}

// hasColumn checks for a column added by a later migration of the catalog.
func hasColumn(sqlDB *sql.DB, table, column string) (bool, error) {
	rows, err := sqlDB.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("scan table info: %w", err)
		}
		if name == column {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}

// Ping checks connectivity.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &db.Error{Op: db.OpPing, Err: err}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) recipeColumns() string {
	fiber := "NULL"
	if s.hasFiber {
		fiber = "macros_fiber_g"
	}
	return `id, title, tags, instructions_json,
		macros_kcal, macros_protein_g, macros_carbs_g, macros_fat_g, ` + fiber
}

// List returns recipes newest first, capped by the configured limit.
func (s *SQLite) List(ctx context.Context) ([]domain.Recipe, error) {
	q := `SELECT ` + s.recipeColumns() + ` FROM recipe ORDER BY created_at DESC, id DESC`
	var args []any
	if s.limit > 0 {
		q += ` LIMIT ?`
		args = append(args, s.limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &db.Error{Op: db.OpScan, Err: err}
	}
	defer rows.Close()

	var recipes []domain.Recipe
	index := make(map[int64]int)
	for rows.Next() {
		r, id, err := scanRecipe(rows)
		if err != nil {
			return nil, &db.Error{Op: db.OpScan, Err: err}
		}
		index[id] = len(recipes)
		recipes = append(recipes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpScan, Err: err}
	}
	if len(recipes) == 0 {
		return recipes, nil
	}

	if err := s.attachIngredients(ctx, recipes, index); err != nil {
		return nil, err
	}
	return recipes, nil
}

// Get returns a recipe by id. Non-numeric ids are not found.
func (s *SQLite) Get(ctx context.Context, id string) (domain.Recipe, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("recipe %s: %w", id, domain.ErrNotFound)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+s.recipeColumns()+` FROM recipe WHERE id = ?`, n)
	r, _, err := scanRecipe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Recipe{}, fmt.Errorf("recipe %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Recipe{}, &db.Error{Op: db.OpGet, Err: err}
	}

	recipes := []domain.Recipe{r}
	if err := s.attachIngredients(ctx, recipes, map[int64]int{n: 0}); err != nil {
		return domain.Recipe{}, err
	}
	return recipes[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecipe(row scanner) (domain.Recipe, int64, error) {
	var (
		id                        int64
		title                     string
		tags, instructions        sql.NullString
		kcal, protein, carbs, fat sql.NullFloat64
		fiber                     sql.NullFloat64
	)
	if err := row.Scan(&id, &title, &tags, &instructions, &kcal, &protein, &carbs, &fat, &fiber); err != nil {
		return domain.Recipe{}, 0, err
	}

	steps, err := parseInstructions(instructions.String)
	if err != nil {
		return domain.Recipe{}, 0, fmt.Errorf("recipe %d: %w", id, err)
	}

	return domain.Recipe{
		ID:           strconv.FormatInt(id, 10),
		Title:        title,
		Tags:         splitTags(tags.String),
		Instructions: steps,
		Macros: domain.Macros{
			Kcal:     nullFloat(kcal),
			ProteinG: nullFloat(protein),
			CarbsG:   nullFloat(carbs),
			FatG:     nullFloat(fat),
			FiberG:   nullFloat(fiber),
		},
	}, id, nil
}

// ingredientBatch bounds the IN list of one ingredient query; SQLite caps
// bound variables per statement.
var ingredientBatch = 500

// attachIngredients loads ingredient lines for the recipes in index, keeping row order.
func (s *SQLite) attachIngredients(ctx context.Context, recipes []domain.Recipe, index map[int64]int) error {
	ids := make([]int64, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	for start := 0; start < len(ids); start += ingredientBatch {
		end := min(start+ingredientBatch, len(ids))
		if err := s.attachIngredientBatch(ctx, recipes, index, ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) attachIngredientBatch(
	ctx context.Context, recipes []domain.Recipe, index map[int64]int, ids []int64,
) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT recipe_id, name, grams FROM recipeitem WHERE recipe_id IN (`+placeholders+`) ORDER BY recipe_id, id`,
		args...,
	)
	if err != nil {
		return &db.Error{Op: db.OpScan, Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			recipeID int64
			name     string
			grams    sql.NullFloat64
		)
		if err := rows.Scan(&recipeID, &name, &grams); err != nil {
			return &db.Error{Op: db.OpScan, Err: err}
		}
		i := index[recipeID]
		recipes[i].Ingredients = append(recipes[i].Ingredients, domain.Ingredient{Name: name, Grams: nullFloat(grams)})
	}
	if err := rows.Err(); err != nil {
		return &db.Error{Op: db.OpScan, Err: err}
	}
	return nil
}

// parseInstructions decodes the JSON step list. Plain text is kept as one step.
func parseInstructions(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	if !strings.HasPrefix(raw, "[") {
		return []string{raw}, nil
	}
	var steps []string
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, fmt.Errorf("decode instructions: %w", err)
	}
	return steps, nil
}

// splitTags parses the comma separated tag column.
func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return domain.Float(v.Float64)
}
