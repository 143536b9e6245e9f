package tools

import (
	"context"
	"fmt"
	"sort"
)

// ClusterGetter issues an authenticated GET against the remote cluster API
// and returns the decoded body plus the HTTP status code.
type ClusterGetter func(ctx context.Context, path string) (map[string]any, int, error)

// dependency kinds and their cluster API resource segments.
var dependencyPaths = map[string]string{
	"config_maps": "configmaps",
	"secrets":     "secrets",
	"pvcs":        "persistentvolumeclaims",
}

// traceDependenciesTool crawls a pod's manifest and verifies every linked
// ConfigMap, Secret and PVC against the cluster API, building a health tree
// for troubleshooting pending or crashing pods. Without cluster credentials
// the call forwards to the remote backend server instead.
func traceDependenciesTool(inv Invoker, cluster ClusterGetter) *Descriptor {
	const name = "remote_k8s_trace_dependencies"
	return &Descriptor{
		Name:        name,
		Description: "TRACE all dependencies of a pod (Secrets, ConfigMaps, PVCs). Use this to find WHY a pod is failing due to missing resources.",
		Parameters:  podParam(nil),
		Execute: func(ctx context.Context, args map[string]any) *Result {
			if cluster == nil {
				return inv.Call(ctx, name, args)
			}
			return traceDependencies(ctx, cluster, args)
		},
	}
}

func traceDependencies(ctx context.Context, cluster ClusterGetter, args map[string]any) *Result {
	podName, _ := args["pod_name"].(string)
	namespace, _ := args["namespace"].(string)
	if namespace == "" {
		namespace = "default"
	}

	manifest, status, err := cluster(ctx, fmt.Sprintf("/api/v1/namespaces/%s/pods/%s", namespace, podName))
	if err != nil {
		return &Result{Success: false, Error: err.Error(), StatusCode: status}
	}

	deps := extractPodDependencies(manifest)
	healthTree := map[string]any{
		"service_account": map[string]any{"name": deps.serviceAccount, "exists": true},
	}
	for kind, names := range map[string][]string{
		"config_maps": deps.configMaps,
		"secrets":     deps.secrets,
		"pvcs":        deps.pvcs,
	} {
		entries := make([]any, 0, len(names))
		for _, n := range names {
			path := fmt.Sprintf("/api/v1/namespaces/%s/%s/%s", namespace, dependencyPaths[kind], n)
			_, st, cerr := cluster(ctx, path)
			entry := map[string]any{"name": n, "status": "Ready"}
			if cerr != nil {
				entry["status"] = fmt.Sprintf("Error: %d", st)
				entry["details"] = cerr.Error()
			}
			entries = append(entries, entry)
		}
		healthTree[kind] = entries
	}

	return &Result{
		Success: true,
		Payload: map[string]any{
			"success":     true,
			"pod_name":    podName,
			"health_tree": healthTree,
		},
	}
}

// podDependencies lists the resources a pod manifest references, deduplicated
// and sorted for stable output.
type podDependencies struct {
	configMaps     []string
	secrets        []string
	pvcs           []string
	serviceAccount string
}

func extractPodDependencies(manifest map[string]any) podDependencies {
	spec, _ := manifest["spec"].(map[string]any)
	cms := map[string]bool{}
	secrets := map[string]bool{}
	pvcs := map[string]bool{}

	containers := append(anySlice(spec, "containers"), anySlice(spec, "initContainers")...)
	for _, c := range containers {
		for _, env := range anySlice(c, "env") {
			ref, _ := env["valueFrom"].(map[string]any)
			if n := refName(ref, "configMapKeyRef", "name"); n != "" {
				cms[n] = true
			}
			if n := refName(ref, "secretKeyRef", "name"); n != "" {
				secrets[n] = true
			}
		}
		for _, ef := range anySlice(c, "envFrom") {
			if n := refName(ef, "configMapRef", "name"); n != "" {
				cms[n] = true
			}
			if n := refName(ef, "secretRef", "name"); n != "" {
				secrets[n] = true
			}
		}
	}
	for _, v := range anySlice(spec, "volumes") {
		if n := refName(v, "configMap", "name"); n != "" {
			cms[n] = true
		}
		if n := refName(v, "secret", "secretName"); n != "" {
			secrets[n] = true
		}
		if n := refName(v, "persistentVolumeClaim", "claimName"); n != "" {
			pvcs[n] = true
		}
	}

	sa, _ := spec["serviceAccountName"].(string)
	return podDependencies{
		configMaps:     sortedKeys(cms),
		secrets:        sortedKeys(secrets),
		pvcs:           sortedKeys(pvcs),
		serviceAccount: sa,
	}
}

func anySlice(m map[string]any, key string) []map[string]any {
	if m == nil {
		return nil
	}
	raw, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func refName(m map[string]any, refKey, nameKey string) string {
	if m == nil {
		return ""
	}
	ref, _ := m[refKey].(map[string]any)
	if ref == nil {
		return ""
	}
	n, _ := ref[nameKey].(string)
	return n
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
