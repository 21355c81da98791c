package oracle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/domain/model"
	"github.com/listpilot/listpilot/internal/failure"
)

const maxFormPageBytes = 1024 * 1024

// HeuristicPlanner builds a best-effort fill plan without a learned mapping.
// When the directory carries known field selectors it maps those directly;
// otherwise it fetches the submission page and matches form input names
// against business-profile fields.
type HeuristicPlanner struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

var _ core.Planner = (*HeuristicPlanner)(nil)

// NewHeuristicPlanner constructs a HeuristicPlanner.
func NewHeuristicPlanner(logger *slog.Logger) *HeuristicPlanner {
	return &HeuristicPlanner{
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		Logger:     logger,
	}
}

// fieldSynonyms maps canonical profile field names to the input name/id
// fragments commonly seen on directory forms.
var fieldSynonyms = map[string][]string{
	"name":        {"business_name", "businessname", "company", "name", "title"},
	"category":    {"category", "industry", "business_type"},
	"description": {"description", "about", "summary", "bio"},
	"phone":       {"phone", "telephone", "tel", "mobile"},
	"email":       {"email", "e-mail", "mail"},
	"website":     {"website", "url", "site", "homepage"},
	"address":     {"address", "street", "address1", "addr"},
	"city":        {"city", "town", "locality"},
	"region":      {"state", "region", "province"},
	"postal_code": {"zip", "postal", "postcode", "postalcode"},
	"country":     {"country"},
}

// Plan produces a heuristic fill plan. It never returns a validation error
// for a missing mapping; an empty or unreachable form is transient so the
// task retry policy still applies.
func (p *HeuristicPlanner) Plan(ctx context.Context, req core.PlanRequest) (*model.FillPlan, error) {
	if req.Directory == nil || req.Profile == nil {
		return nil, failure.Newf(failure.KindValidation, "plan request requires directory and profile")
	}

	values := profileValues(req.Profile)

	if len(req.Directory.FieldSelectors) > 0 {
		plan := p.planFromSelectors(req.Directory, values)
		if plan != nil {
			return plan, nil
		}
	}

	return p.planFromPage(ctx, req.Directory, values)
}

// planFromSelectors maps the directory's known selector table directly.
func (p *HeuristicPlanner) planFromSelectors(dir *model.Directory, values map[string]string) *model.FillPlan {
	fields := make([]string, 0, len(dir.FieldSelectors))
	for field := range dir.FieldSelectors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var actions []model.FillAction
	for _, field := range fields {
		value, ok := values[field]
		if !ok || value == "" {
			continue
		}
		actions = append(actions, model.FillAction{
			Selector: dir.FieldSelectors[field],
			Value:    value,
			Kind:     model.ActionFill,
			Field:    field,
		})
	}
	if len(actions) == 0 {
		return nil
	}

	submit := dir.SubmitSelector
	if submit == "" {
		submit = `form [type="submit"]`
	}

	return &model.FillPlan{
		DirectoryID: dir.ID,
		Actions:     actions,
		Submit:      model.FillAction{Selector: submit, Kind: model.ActionClick},
		Obstacles:   directoryObstacles(dir),
		Heuristic:   true,
	}
}

// planFromPage fetches the submission page and matches form inputs against
// profile fields by name/id fragments.
func (p *HeuristicPlanner) planFromPage(ctx context.Context, dir *model.Directory, values map[string]string) (*model.FillPlan, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, dir.SubmitURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build form page request: %w", err)
	}

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, failure.New(failure.KindTransientAutomation, fmt.Errorf("fetch form page: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, failure.Newf(failure.KindTransientAutomation, "form page returned status %d", resp.StatusCode)
	}

	inputs, err := extractFormInputs(io.LimitReader(resp.Body, maxFormPageBytes))
	if err != nil {
		return nil, failure.New(failure.KindTransientAutomation, fmt.Errorf("parse form page: %w", err))
	}

	var actions []model.FillAction
	for _, in := range inputs {
		field := matchField(in.name)
		if field == "" {
			continue
		}
		value, ok := values[field]
		if !ok || value == "" {
			continue
		}
		kind := model.ActionFill
		if in.tag == "select" {
			kind = model.ActionSelect
		}
		actions = append(actions, model.FillAction{
			Selector: in.selector(),
			Value:    value,
			Kind:     kind,
			Field:    field,
		})
	}
	if len(actions) == 0 {
		return nil, failure.Newf(failure.KindTransientAutomation,
			"no mappable form fields found on %s", dir.SubmitURL)
	}

	if p.Logger != nil {
		p.Logger.DebugContext(ctx, "heuristic plan built from page",
			"directory", dir.Name, "actions", len(actions))
	}

	return &model.FillPlan{
		DirectoryID: dir.ID,
		Actions:     actions,
		Submit:      model.FillAction{Selector: `form [type="submit"]`, Kind: model.ActionClick},
		Obstacles:   directoryObstacles(dir),
		Heuristic:   true,
	}, nil
}

type formInput struct {
	tag  string
	name string
	id   string
}

func (f formInput) selector() string {
	if f.id != "" {
		return "#" + f.id
	}
	return fmt.Sprintf(`%s[name=%q]`, f.tag, f.name)
}

// extractFormInputs walks the HTML tree collecting named input, textarea,
// and select elements inside forms.
func extractFormInputs(r io.Reader) ([]formInput, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var inputs []formInput
	var walk func(n *html.Node, inForm bool)
	walk = func(n *html.Node, inForm bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "form":
				inForm = true
			case "input", "textarea", "select":
				if inForm {
					in := formInput{tag: n.Data}
					for _, a := range n.Attr {
						switch a.Key {
						case "name":
							in.name = a.Val
						case "id":
							in.id = a.Val
						case "type":
							if a.Val == "hidden" || a.Val == "submit" || a.Val == "password" {
								return
							}
						}
					}
					if in.name != "" || in.id != "" {
						inputs = append(inputs, in)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inForm)
		}
	}
	walk(doc, false)
	return inputs, nil
}

// matchField returns the canonical profile field a form input name maps to,
// or "" when nothing matches.
func matchField(name string) string {
	n := strings.ToLower(name)
	n = strings.NewReplacer("-", "", "_", "", "[", "", "]", "").Replace(n)

	type candidate struct {
		field string
		frag  string
	}
	var best candidate
	for field, frags := range fieldSynonyms {
		for _, frag := range frags {
			f := strings.NewReplacer("-", "", "_", "").Replace(frag)
			if strings.Contains(n, f) && len(f) > len(best.frag) {
				best = candidate{field: field, frag: f}
			}
		}
	}
	return best.field
}

func profileValues(p *model.BusinessProfile) map[string]string {
	return map[string]string{
		"name":        p.Name,
		"category":    p.Category,
		"description": p.Description,
		"phone":       p.Phone,
		"email":       p.Email,
		"website":     p.Website,
		"address":     p.Address,
		"city":        p.City,
		"region":      p.Region,
		"postal_code": p.PostalCode,
		"country":     p.Country,
	}
}

func directoryObstacles(dir *model.Directory) []model.Obstacle {
	var obstacles []model.Obstacle
	if dir.ExpectsCaptcha {
		obstacles = append(obstacles, model.ObstacleCaptcha)
	}
	if dir.RequiresLogin {
		obstacles = append(obstacles, model.ObstacleLogin)
	}
	return obstacles
}
