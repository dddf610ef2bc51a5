package config

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"screenfill/domain/entities"
	"screenfill/domain/interfaces"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type pathPair struct {
	Images  string `yaml:"images" json:"images"`
	Configs string `yaml:"configs" json:"configs"`
}

type taskDef struct {
	Pages []string `yaml:"pages" json:"pages"`
}

// rootFile is the root site description. JSON files decode through the same
// YAML decoder.
type rootFile struct {
	BaseDir         string                       `yaml:"base_dir"`
	GeneralPaths    pathPair                     `yaml:"general_paths"`
	Pages           map[string]pathPair          `yaml:"pages"`
	HomeLandmarks   []string                     `yaml:"home_landmarks"`
	TaskRoute       map[string][]string          `yaml:"task_route"`
	Tasks           map[string]taskDef           `yaml:"tasks"`
	PageTransitions map[string]map[string]string `yaml:"page_transitions"`
	FooterLandmark  string                       `yaml:"footer_landmark"`
}

// GeneralPage names the shared landmark folder in Template and Recipes.
const GeneralPage = ""

var defaultHomeLandmarks = []string{"homepage_0", "homepage_1", "homepage_2"}

// FileSiteConfig reads the site description from a directory tree:
// one images and one configs folder per page plus a general pair.
type FileSiteConfig struct {
	root   rootFile
	base   string
	logger *logrus.Logger

	mu        sync.Mutex
	templates map[string]*entities.ReferenceTemplate
	recipes   map[string]map[string]entities.Recipe
}

var _ interfaces.SiteConfig = (*FileSiteConfig)(nil)

// LoadSiteConfig reads the root config file. A relative base_dir is taken
// from the working directory; an empty one means the config file's folder.
func LoadSiteConfig(path string, logger *logrus.Logger) (*FileSiteConfig, error) {
	var root rootFile
	if err := decodeFile(path, &root); err != nil {
		return nil, fmt.Errorf("load site config: %w", err)
	}
	base := root.BaseDir
	if base == "" {
		base = filepath.Dir(path)
	}
	if len(root.HomeLandmarks) == 0 {
		root.HomeLandmarks = defaultHomeLandmarks
	}
	if root.FooterLandmark == "" {
		root.FooterLandmark = "footer"
	}
	c := &FileSiteConfig{
		root:      root,
		base:      base,
		logger:    logger,
		templates: make(map[string]*entities.ReferenceTemplate),
		recipes:   make(map[string]map[string]entities.Recipe),
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{"path": path, "pages": len(root.Pages), "tasks": len(root.Tasks)}).Info("Site config loaded")
	return c, nil
}

func (c *FileSiteConfig) check() error {
	for task, def := range c.root.Tasks {
		if len(def.Pages) == 0 {
			return fmt.Errorf("task %s has no pages", task)
		}
		for _, p := range def.Pages {
			if _, ok := c.root.Pages[p]; !ok {
				return fmt.Errorf("task %s references unknown page %s", task, p)
			}
		}
	}
	return nil
}

// HomeLandmarks implements interfaces.SiteConfig.
func (c *FileSiteConfig) HomeLandmarks() []string {
	return append([]string(nil), c.root.HomeLandmarks...)
}

// TaskRoute implements interfaces.SiteConfig.
func (c *FileSiteConfig) TaskRoute(task string) ([]string, error) {
	route, ok := c.root.TaskRoute[task]
	if !ok {
		return nil, fmt.Errorf("invalid task: %s", task)
	}
	return append([]string(nil), route...), nil
}

// TaskPages implements interfaces.SiteConfig.
func (c *FileSiteConfig) TaskPages(task string) ([]string, error) {
	def, ok := c.root.Tasks[task]
	if !ok {
		return nil, fmt.Errorf("no pages configured for task %s", task)
	}
	return append([]string(nil), def.Pages...), nil
}

// Tasks lists the configured task ids.
func (c *FileSiteConfig) Tasks() []string {
	out := make([]string, 0, len(c.root.TaskRoute))
	for t := range c.root.TaskRoute {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TransitionLandmark implements interfaces.SiteConfig. Without an override
// the landmark is named to_<to>_from_<from>.
func (c *FileSiteConfig) TransitionLandmark(from, to string) string {
	if name := c.root.PageTransitions[from][to]; name != "" {
		return name
	}
	return "to_" + to + "_from_" + from
}

// FooterLandmark implements interfaces.SiteConfig.
func (c *FileSiteConfig) FooterLandmark() string {
	return c.root.FooterLandmark
}

func (c *FileSiteConfig) dirs(page string) (pathPair, error) {
	p := c.root.GeneralPaths
	if page != GeneralPage {
		var ok bool
		if p, ok = c.root.Pages[page]; !ok {
			return pathPair{}, fmt.Errorf("invalid page type: %s", page)
		}
	}
	return pathPair{
		Images:  filepath.Join(c.base, p.Images),
		Configs: filepath.Join(c.base, p.Configs),
	}, nil
}

// Recipes implements interfaces.SiteConfig. steps.yaml, steps.yml and
// steps.json are tried in that order.
func (c *FileSiteConfig) Recipes(page string) (map[string]entities.Recipe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.recipes[page]; ok {
		return r, nil
	}
	d, err := c.dirs(page)
	if err != nil {
		return nil, err
	}
	path, err := firstExisting(d.Configs, "steps.yaml", "steps.yml", "steps.json")
	if err != nil {
		return nil, fmt.Errorf("steps for page %s: %w", page, err)
	}
	var raw map[string][]interface{}
	if err := decodeFile(path, &raw); err != nil {
		return nil, err
	}
	recipes := make(map[string]entities.Recipe, len(raw))
	for field, steps := range raw {
		recipe, err := decodeSteps(steps)
		if err != nil {
			return nil, fmt.Errorf("%s: field %s: %w", path, field, err)
		}
		recipes[field] = recipe
	}
	c.recipes[page] = recipes
	return recipes, nil
}

// SelectionOptions implements interfaces.SiteConfig. The file maps labels to
// [key, repeat] pairs or {key, repeat} objects; a plain label list is
// expanded by first letter.
func (c *FileSiteConfig) SelectionOptions(page, field string) (entities.SelectionOptions, error) {
	d, err := c.dirs(page)
	if err != nil {
		return nil, err
	}
	path, err := firstExisting(d.Configs, field+".json", field+".yaml")
	if err != nil {
		return nil, fmt.Errorf("selection options for %s: %w", field, err)
	}
	var raw interface{}
	if err := decodeFile(path, &raw); err != nil {
		return nil, err
	}
	return decodeSelection(raw)
}

// Template implements interfaces.SiteConfig. Missing files wrap
// fs.ErrNotExist; undecodable ones wrap entities.ErrUnreadableImage.
func (c *FileSiteConfig) Template(page, name string) (*entities.ReferenceTemplate, error) {
	d, err := c.dirs(page)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(d.Images, name+".png")

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.templates[path]; ok {
		return t, nil
	}
	t, err := LoadTemplate(name, path)
	if err != nil {
		return nil, err
	}
	c.templates[path] = t
	return t, nil
}

// LoadTemplate decodes a reference image from disk.
func LoadTemplate(name, path string) (*entities.ReferenceTemplate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", entities.ErrUnreadableImage, path, err)
	}
	return &entities.ReferenceTemplate{Name: name, Image: img}, nil
}

// actionAliases maps the older pyautogui-style step names.
var actionAliases = map[string]entities.ActionName{
	"mouse_move":                entities.ActionMove,
	"mouse_click":               entities.ActionClick,
	"mouse_scroll":              entities.ActionScroll,
	"keyboard_write":            entities.ActionType,
	"keyboard_press":            entities.ActionPress,
	"keyboard_hotkey":           entities.ActionHotkey,
	"keyboard_release_all_keys": entities.ActionReleaseModifiers,
}

func actionName(s string) entities.ActionName {
	if a, ok := actionAliases[s]; ok {
		return a
	}
	return entities.ActionName(s)
}

func decodeSteps(raw []interface{}) (entities.Recipe, error) {
	recipe := make(entities.Recipe, 0, len(raw))
	for i, item := range raw {
		step, err := decodeStep(item)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		recipe = append(recipe, step)
	}
	return recipe, nil
}

// decodeStep accepts ["click", {...}] and {action: click, params: {...}}.
// A "steps" parameter becomes the loop body.
func decodeStep(raw interface{}) (entities.ActionStep, error) {
	var name string
	var params map[string]interface{}
	switch t := raw.(type) {
	case []interface{}:
		if len(t) == 0 || len(t) > 2 {
			return entities.ActionStep{}, fmt.Errorf("%w: step must be [action, params]", entities.ErrInvalidRecipe)
		}
		s, ok := t[0].(string)
		if !ok {
			return entities.ActionStep{}, fmt.Errorf("%w: action name must be a string", entities.ErrInvalidRecipe)
		}
		name = s
		if len(t) == 2 && t[1] != nil {
			if params, ok = t[1].(map[string]interface{}); !ok {
				return entities.ActionStep{}, fmt.Errorf("%w: params of %s must be an object", entities.ErrInvalidRecipe, s)
			}
		}
	case map[string]interface{}:
		s, ok := t["action"].(string)
		if !ok {
			return entities.ActionStep{}, fmt.Errorf("%w: step object without action", entities.ErrInvalidRecipe)
		}
		name = s
		if p, ok := t["params"].(map[string]interface{}); ok {
			params = p
		}
	case string:
		name = t
	default:
		return entities.ActionStep{}, fmt.Errorf("%w: unsupported step %T", entities.ErrInvalidRecipe, raw)
	}

	step := entities.ActionStep{Action: actionName(name), Params: make(map[string]interface{}, len(params))}
	for k, v := range params {
		step.Params[k] = v
	}
	if body, ok := step.Params["steps"]; ok {
		list, ok := body.([]interface{})
		if !ok {
			return entities.ActionStep{}, fmt.Errorf("%w: steps of %s must be a list", entities.ErrInvalidRecipe, name)
		}
		sub, err := decodeSteps(list)
		if err != nil {
			return entities.ActionStep{}, err
		}
		step.Steps = sub
		delete(step.Params, "steps")
	}
	return step, nil
}

func decodeSelection(raw interface{}) (entities.SelectionOptions, error) {
	switch t := raw.(type) {
	case []interface{}:
		labels := make([]string, 0, len(t))
		for _, l := range t {
			labels = append(labels, fmt.Sprint(l))
		}
		return entities.BuildSelectionOptions(labels), nil
	case map[string]interface{}:
		out := make(entities.SelectionOptions, len(t))
		for label, v := range t {
			opt, err := decodeOption(v)
			if err != nil {
				return nil, fmt.Errorf("option %q: %w", label, err)
			}
			out[label] = opt
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported selection dictionary %T", raw)
}

func decodeOption(v interface{}) (entities.SelectionOption, error) {
	switch t := v.(type) {
	case []interface{}:
		if len(t) != 2 {
			return entities.SelectionOption{}, errors.New("expected [key, repeat]")
		}
		step := entities.ActionStep{Params: map[string]interface{}{"key": t[0], "repeat": t[1]}}
		return entities.SelectionOption{Key: step.String("key", ""), Repeat: step.Int("repeat", 1)}, nil
	case map[string]interface{}:
		step := entities.ActionStep{Params: t}
		return entities.SelectionOption{Key: step.String("key", ""), Repeat: step.Int("repeat", 1)}, nil
	}
	return entities.SelectionOption{}, fmt.Errorf("unsupported option %T", v)
}

func decodeFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func firstExisting(dir string, names ...string) (string, error) {
	for _, n := range names {
		p := filepath.Join(dir, n)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("none of %v in %s: %w", names, dir, fs.ErrNotExist)
}
