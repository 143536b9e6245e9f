package tools

import (
	"context"
	"fmt"
)

// ResourceLocation records where a named resource was observed.
type ResourceLocation struct {
	Backend   string `json:"backend"`
	Namespace string `json:"namespace"`
}

// ResourceLocator resolves (kind, name) to the backends and namespaces where
// the resource exists. Backed by the pulse resource index.
type ResourceLocator func(kind, name string) []ResourceLocation

// remoteTool builds a descriptor whose execution goes straight to the backend
// server through the invoker.
func remoteTool(inv Invoker, name, description string, params Schema) *Descriptor {
	return &Descriptor{
		Name:        name,
		Description: description,
		Parameters:  params,
		Execute: func(ctx context.Context, args map[string]any) *Result {
			return inv.Call(ctx, name, args)
		},
	}
}

func noParams() Schema {
	return Schema{Type: "object", Properties: map[string]Property{}}
}

func namespaceParam() Schema {
	return Schema{
		Type: "object",
		Properties: map[string]Property{
			"namespace": {Type: "string", Description: "Kubernetes namespace. Defaults to 'default'.", Default: "default"},
		},
	}
}

func podParam(extra map[string]Property, required ...string) Schema {
	props := map[string]Property{
		"pod_name":  {Type: "string", Description: "Name of the pod."},
		"namespace": {Type: "string", Description: "Kubernetes namespace. Defaults to 'default'.", Default: "default"},
	}
	for k, v := range extra {
		props[k] = v
	}
	req := append([]string{"pod_name"}, required...)
	return Schema{Type: "object", Properties: props, Required: req}
}

// Builtin constructs the full built-in tool set wired to the given invoker.
// locate may be nil; the discovery tool then reports an empty index. cluster
// may be nil; the dependency tracer then runs on the remote backend server.
func Builtin(inv Invoker, locate ResourceLocator, cluster ClusterGetter) []*Descriptor {
	ds := []*Descriptor{
		// Docker.
		remoteTool(inv, "docker_list_containers",
			"LIST all Docker containers on the host, including stopped ones. Shows name, id, image and status.",
			noParams()),
		remoteTool(inv, "docker_run_container",
			"RUN a new Docker container from an image. Optionally binds ports and sets a name.",
			Schema{
				Type: "object",
				Properties: map[string]Property{
					"image": {Type: "string", Description: "Image to run, e.g. 'nginx:latest'."},
					"name":  {Type: "string", Description: "Optional container name."},
					"ports": {Type: "string", Description: "Optional port binding, e.g. '8080:80'."},
				},
				Required: []string{"image"},
			}),
		remoteTool(inv, "docker_stop_container",
			"STOP a running Docker container by id or name.",
			Schema{
				Type: "object",
				Properties: map[string]Property{
					"container_id": {Type: "string", Description: "Container id or name to stop."},
				},
				Required: []string{"container_id"},
			}),
		remoteTool(inv, "docker_rm_container",
			"REMOVE a stopped Docker container by id or name.",
			Schema{
				Type: "object",
				Properties: map[string]Property{
					"container_id": {Type: "string", Description: "Container id or name to remove."},
				},
				Required: []string{"container_id"},
			}),
		remoteTool(inv, "docker_prune",
			"PRUNE unused Docker data: stopped containers, dangling images and unused networks.",
			noParams()),
		remoteTool(inv, "docker_get_logs",
			"FETCH logs from a Docker container.",
			Schema{
				Type: "object",
				Properties: map[string]Property{
					"container_id": {Type: "string", Description: "Container id or name."},
					"lines":        {Type: "integer", Description: "Number of trailing lines. Defaults to 100.", Default: 100},
				},
				Required: []string{"container_id"},
			}),

		// Local Kubernetes.
		remoteTool(inv, "local_k8s_list_pods",
			"LIST pods in the LOCAL Kubernetes cluster. Shows name, phase, ip, node and readiness.",
			namespaceParam()),
		remoteTool(inv, "local_k8s_list_nodes",
			"LIST nodes of the LOCAL Kubernetes cluster with status and roles.",
			noParams()),
		remoteTool(inv, "local_k8s_describe_pod",
			"DESCRIBE a pod in the LOCAL cluster: events, containers, conditions.",
			podParam(nil)),
		remoteTool(inv, "local_k8s_get_logs",
			"FETCH logs from a pod in the LOCAL cluster.",
			podParam(map[string]Property{
				"lines": {Type: "integer", Description: "Number of trailing lines. Defaults to 100.", Default: 100},
			})),

		// Remote Kubernetes.
		remoteTool(inv, "remote_k8s_list_pods",
			"LIST pods in the REMOTE Kubernetes cluster. Shows name, phase, ip, node and readiness.",
			namespaceParam()),
		remoteTool(inv, "remote_k8s_list_nodes",
			"LIST nodes of the REMOTE Kubernetes cluster with status and roles.",
			noParams()),
		remoteTool(inv, "remote_k8s_list_services",
			"LIST services in the REMOTE cluster with cluster ip and ports.",
			namespaceParam()),
		remoteTool(inv, "remote_k8s_list_deployments",
			"LIST deployments in the REMOTE cluster with replica counts.",
			namespaceParam()),
		remoteTool(inv, "remote_k8s_list_namespaces",
			"LIST all namespaces of the REMOTE cluster.",
			noParams()),
		remoteTool(inv, "remote_k8s_describe_pod",
			"DESCRIBE a pod in the REMOTE cluster: events, containers, conditions.",
			podParam(nil)),
		remoteTool(inv, "remote_k8s_get_logs",
			"FETCH logs from a pod in the REMOTE cluster.",
			podParam(map[string]Property{
				"lines": {Type: "integer", Description: "Number of trailing lines. Defaults to 100.", Default: 100},
			})),
		remoteTool(inv, "remote_k8s_top_nodes",
			"SHOW cpu and memory utilization metrics for REMOTE cluster nodes.",
			noParams()),
		remoteTool(inv, "remote_k8s_top_pods",
			"SHOW cpu and memory utilization metrics for REMOTE cluster pods.",
			namespaceParam()),
		remoteTool(inv, "remote_k8s_delete_pod",
			"DELETE a pod from the REMOTE cluster. Destructive.",
			podParam(nil)),
		remoteTool(inv, "remote_k8s_exec",
			"EXECUTE a shell command inside a pod of the REMOTE cluster. Full shell access.",
			podParam(map[string]Property{
				"command": {Type: "string", Description: "Command line to execute inside the pod."},
			}, "command")),
		remoteTool(inv, "remote_k8s_promote",
			"PROMOTE (copy) a resource from the LOCAL cluster to the REMOTE cluster.",
			Schema{
				Type: "object",
				Properties: map[string]Property{
					"name":          {Type: "string", Description: "Name of the resource to promote."},
					"resource_type": {Type: "string", Description: "Type of resource.", Enum: []string{"deployment", "service", "configmap"}, Default: "deployment"},
					"namespace":     {Type: "string", Description: "Namespace of the resource. Defaults to 'default'.", Default: "default"},
				},
				Required: []string{"name"},
			}),
		traceDependenciesTool(inv, cluster),

		// Chat sentinel. Served by the docker endpoint by convention.
		remoteTool(inv, "chat",
			"Respond to small talk, greetings, or questions that need no infrastructure tool.",
			Schema{
				Type: "object",
				Properties: map[string]Property{
					"message": {Type: "string", Description: "The user's message."},
				},
			}),
	}

	ds = append(ds, findResourceNamespaceTool(locate))
	return ds
}

// findResourceNamespaceTool answers "where does pod X live" from the pulse
// resource index without a backend round-trip.
func findResourceNamespaceTool(locate ResourceLocator) *Descriptor {
	return &Descriptor{
		Name: "remote_k8s_find_resource_namespace",
		Description: "SEARCH for a resource name (pod or deployment) across ALL namespaces and BOTH " +
			"local/remote clusters. Use this if you don't know the namespace of a resource.",
		Parameters: Schema{
			Type: "object",
			Properties: map[string]Property{
				"name":          {Type: "string", Description: "The name of the resource to look for."},
				"resource_type": {Type: "string", Description: "Type of resource to search for. Default is 'pods'.", Enum: []string{"pods", "deployments"}, Default: "pods"},
			},
			Required: []string{"name"},
		},
		Execute: func(_ context.Context, args map[string]any) *Result {
			name, _ := args["name"].(string)
			kind, _ := args["resource_type"].(string)
			if kind == "" {
				kind = "pods"
			}
			// The index keys plural kinds.
			if kind[len(kind)-1] != 's' {
				kind += "s"
			}
			if locate == nil {
				return Errorf("resource index not available yet")
			}
			matches := locate(kind, name)
			if len(matches) == 0 {
				return &Result{
					Success: false,
					Error:   fmt.Sprintf("Resource %q not found in global index. Pulse check might be pending.", name),
				}
			}
			out := make([]any, len(matches))
			for i, m := range matches {
				out[i] = map[string]any{"backend": m.Backend, "namespace": m.Namespace}
			}
			return &Result{
				Success: true,
				Payload: map[string]any{
					"success":    true,
					"matches":    out,
					"suggestion": fmt.Sprintf("Found %q in %s namespace %q.", name, matches[0].Backend, matches[0].Namespace),
				},
			}
		},
	}
}
