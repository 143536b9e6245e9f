// Package router implements the pre-LLM routing cascade: an exact input
// cache, regex templates (manual plus auto-inferred), and semantic intent
// matching. A miss at every tier hands the query to the RAG+LLM agent.
package router

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/dispatch/pkg/tools"
)

// Template maps a query pattern to a concrete tool call. Arg values may
// reference named capture groups as "{group}".
type Template struct {
	Name    string         `yaml:"name"`
	Pattern string         `yaml:"pattern"`
	Tool    string         `yaml:"tool"`
	Args    map[string]any `yaml:"args"`
	Auto    bool           `yaml:"-"`

	compiled *regexp.Regexp
}

// compile builds the case-insensitive matcher. Patterns use search
// semantics, so "please get logs for pod web" still matches a logs template.
func (t *Template) compile() error {
	re, err := regexp.Compile("(?i)" + t.Pattern)
	if err != nil {
		return fmt.Errorf("template %q has invalid pattern: %w", t.Name, err)
	}
	t.compiled = re
	return nil
}

// match tries the template against the query and interpolates the args.
// Returns nil when the pattern does not match or a referenced group is empty.
func (t *Template) match(query string) *tools.Call {
	m := t.compiled.FindStringSubmatch(query)
	if m == nil {
		return nil
	}
	groups := map[string]string{}
	for i, name := range t.compiled.SubexpNames() {
		if name != "" && i < len(m) {
			groups[name] = m[i]
		}
	}

	args := make(map[string]any, len(t.Args))
	for k, v := range t.Args {
		s, ok := v.(string)
		if !ok || !strings.Contains(s, "{") {
			args[k] = v
			continue
		}
		interpolated, err := interpolate(s, groups)
		if err != nil {
			return nil
		}
		args[k] = interpolated
	}
	return &tools.Call{Name: t.Tool, Arguments: args}
}

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// interpolate replaces every "{group}" placeholder with its capture value.
func interpolate(s string, groups map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(s, func(ph string) string {
		name := ph[1 : len(ph)-1]
		val := groups[name]
		if val == "" {
			missing = name
		}
		return val
	})
	if missing != "" {
		return "", fmt.Errorf("capture group %q is empty", missing)
	}
	return out, nil
}

// autoPattern is the inferred template body for one tool-name suffix.
type autoPattern struct {
	suffix  string
	pattern string
	args    map[string]any
}

// Inferred query patterns keyed by tool-name suffix. Order matters: the
// first matching suffix wins.
var autoPatterns = []autoPattern{
	{"_describe_pod", `describe (?:the )?(?:pod )?(?P<pod>[\w-]+)`,
		map[string]any{"pod_name": "{pod}", "namespace": "default"}},
	{"_describe_node", `describe (?:the )?node (?P<node>[\w-]+)`,
		map[string]any{"node_name": "{node}"}},
	{"_describe_service", `describe (?:the )?service (?P<service>[\w-]+)`,
		map[string]any{"service_name": "{service}"}},
	{"_describe_deployment", `describe (?:the )?deployment (?P<deployment>[\w-]+)`,
		map[string]any{"deployment_name": "{deployment}"}},
	{"_describe_namespace", `describe (?:the )?namespace (?P<namespace>[\w-]+)`,
		map[string]any{"namespace": "{namespace}"}},
	{"_get_logs", `(?:get |show )?logs (?:for )?(?:pod )?(?P<pod>[\w-]+)`,
		map[string]any{"pod_name": "{pod}"}},
	{"_stop_container", `stop (?:the )?container (?P<container>[\w.-]+)`,
		map[string]any{"container_id": "{container}"}},
	{"_rm_container", `(?:remove|delete) (?:the )?container (?P<container>[\w.-]+)`,
		map[string]any{"container_id": "{container}"}},
	{"_list_containers", `(?:list|show) (?:all |my )?containers`, map[string]any{}},
	{"_list_pods", `(?:list|show) (?:all )?pods`, map[string]any{}},
	{"_list_nodes", `(?:list|show) (?:all )?nodes`, map[string]any{}},
	{"_list_services", `(?:list|show) (?:all )?services`, map[string]any{}},
	{"_list_deployments", `(?:list|show) (?:all )?deployments`, map[string]any{}},
	{"_list_namespaces", `(?:list|show) (?:all )?namespaces`, map[string]any{}},
	{"_top_nodes", `(?:top|metrics for) nodes`, map[string]any{}},
	{"_top_pods", `(?:top|metrics for) pods`, map[string]any{}},
}

// InferTemplates derives regex templates from tool names. Remote and local
// k8s tools get a scope word prepended so "remote list pods" does not
// trigger the local variant.
func InferTemplates(toolNames []string) []*Template {
	var out []*Template
	for _, name := range toolNames {
		for _, ap := range autoPatterns {
			if !strings.HasSuffix(name, ap.suffix) {
				continue
			}
			pattern := ap.pattern
			switch {
			case strings.HasPrefix(name, "remote_k8s_"):
				pattern = "remote " + pattern
			case strings.HasPrefix(name, "local_k8s_"):
				pattern = "local " + pattern
			}
			args := make(map[string]any, len(ap.args))
			for k, v := range ap.args {
				args[k] = v
			}
			out = append(out, &Template{
				Name:    "auto_" + name,
				Pattern: pattern,
				Tool:    name,
				Args:    args,
				Auto:    true,
			})
			break
		}
	}
	return out
}
