package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/domain/query"
	"github.com/kailas-cloud/recipedex/internal/usecase/retrieval"
)

// withComponents wires the services for a one-shot command and releases them afterwards.
func (st *cliState) withComponents(c *cli.Context, fn func(*components) error) error {
	comps, err := wire(c.Context, st.cfg, st.logger)
	if err != nil {
		return err
	}
	defer comps.Close()
	return fn(comps)
}

func (st *cliState) retrieveCommand(c *cli.Context) error {
	req, err := requestFromFlags(c)
	if err != nil {
		return err
	}

	return st.withComponents(c, func(comps *components) error {
		ctx, usage := domain.NewContextWithUsage(c.Context)
		resp, err := comps.retrieval.Retrieve(ctx, req)
		if err != nil {
			return err
		}
		if c.Bool("json") {
			return printJSON(c, resp, usage)
		}
		printText(c, resp)
		return nil
	})
}

func requestFromFlags(c *cli.Context) (retrieval.Request, error) {
	req := retrieval.Request{
		Message:             strings.Join(c.Args().Slice(), " "),
		Cuisines:            c.StringSlice("cuisine"),
		RequiredIngredients: c.StringSlice("require"),
		Servings:            c.Int("servings"),
		TopK:                c.Int("top-k"),
	}

	if pairs := c.StringSlice("constraint"); len(pairs) > 0 {
		req.Constraints = make(map[string]any, len(pairs))
		for _, pair := range pairs {
			cons, err := query.ParseConstraint(pair)
			if err != nil {
				return retrieval.Request{}, err
			}
			kind := string(cons.Kind())
			if _, dup := req.Constraints[kind]; dup {
				return retrieval.Request{}, fmt.Errorf("%w: duplicate kind %s", domain.ErrInvalidConstraint, kind)
			}
			req.Constraints[kind] = cons.Threshold()
		}
	}
	if prefs := c.StringSlice("pref"); len(prefs) > 0 {
		req.Preferences = make(map[string]bool, len(prefs))
		for _, p := range prefs {
			req.Preferences[p] = true
		}
	}
	return req, nil
}

func printText(c *cli.Context, resp retrieval.Response) {
	w := c.App.Writer
	mode := "semantic"
	if !resp.UsedEmbeddings {
		mode = "keyword (" + string(resp.Stats.DegradedReason) + ")"
	}
	fmt.Fprintf(w, "ranking: %s, %d of %d candidates kept\n",
		mode, resp.Stats.CandidatesKept, resp.Stats.CandidatesTotal)

	for i, r := range resp.Results {
		kcal := "?"
		if r.Recipe.Macros.Kcal != nil {
			kcal = fmt.Sprintf("%.0f", *r.Recipe.Macros.Kcal)
		}
		fmt.Fprintf(w, "%2d. %s [%s] score=%.3f kcal=%s\n", i+1, r.Recipe.Title, r.Recipe.ID, r.Score, kcal)
	}
	for _, n := range resp.Notes {
		fmt.Fprintf(w, "note: %s\n", n)
	}
}

type jsonResult struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Score      float64  `json:"score"`
	Components any      `json:"components"`
	Satisfied  []string `json:"satisfied_constraints"`
}

func printJSON(c *cli.Context, resp retrieval.Response, usage *domain.EmbeddingUsage) error {
	results := make([]jsonResult, len(resp.Results))
	for i, r := range resp.Results {
		satisfied := make([]string, len(r.Satisfied))
		for j, k := range r.Satisfied {
			satisfied[j] = string(k)
		}
		results[i] = jsonResult{
			ID:         r.Recipe.ID,
			Title:      r.Recipe.Title,
			Score:      r.Score,
			Components: r.Components,
			Satisfied:  satisfied,
		}
	}
	calls, _, tokens := usage.Snapshot()

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"results":          results,
		"used_embeddings":  resp.UsedEmbeddings,
		"degraded_reason":  resp.Stats.DegradedReason,
		"notes":            resp.Notes,
		"embedding_calls":  calls,
		"embedding_tokens": tokens,
	})
}

func (st *cliState) indexCommand(c *cli.Context) error {
	return st.withComponents(c, func(comps *components) error {
		report, err := comps.retrieval.BuildIndex(c.Context, c.Bool("force"))
		fmt.Fprintf(c.App.Writer, "items=%d hits=%d stale=%d computed=%d\n",
			report.Items, report.Hits, report.Stale, report.Computed)
		return err
	})
}

func (st *cliState) refreshCommand(c *cli.Context) error {
	id, err := recipeIDArg(c)
	if err != nil {
		return err
	}
	return st.withComponents(c, func(comps *components) error {
		if err := comps.retrieval.Refresh(c.Context, id); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "refreshed %s\n", id)
		return nil
	})
}

func (st *cliState) forgetCommand(c *cli.Context) error {
	id, err := recipeIDArg(c)
	if err != nil {
		return err
	}
	return st.withComponents(c, func(comps *components) error {
		if err := comps.retrieval.Forget(c.Context, id); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "forgot %s\n", id)
		return nil
	})
}

func (st *cliState) clearCommand(c *cli.Context) error {
	return st.withComponents(c, func(comps *components) error {
		n, err := comps.retrieval.ClearIndex(c.Context)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "removed %d\n", n)
		return nil
	})
}

func (st *cliState) countCommand(c *cli.Context) error {
	return st.withComponents(c, func(comps *components) error {
		n, err := comps.retrieval.CachedCount(c.Context)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, n)
		return nil
	})
}

func recipeIDArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one recipe id, got %d arguments", c.NArg())
	}
	return c.Args().First(), nil
}
