// Package logging provides a small fluent builder over logrus.Fields so
// every component attaches a consistent set of structured keys instead
// of ad-hoc key names.
package logging

import "time"

// Fields is a fluent logrus.Fields builder.
type Fields map[string]interface{}

// NewFields returns an empty Fields builder.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, resourceName string) Fields {
	f["resource_type"] = resourceType
	if resourceName != "" {
		f["resource_name"] = resourceName
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	if id != "" {
		f["request_id"] = id
	}
	return f
}

// RunID attaches the orchestration run's correlation identifier.
func (f Fields) RunID(id string) Fields {
	if id != "" {
		f["run_id"] = id
	}
	return f
}

func (f Fields) TraceID(id string) Fields {
	if id != "" {
		f["trace_id"] = id
	}
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToLogrus adapts Fields to logrus.Fields without importing logrus here,
// keeping this package dependency-free; callers do the import-side
// conversion (map[string]interface{} is logrus.Fields's underlying type).
func (f Fields) ToLogrus() map[string]interface{} {
	return f
}

// DatabaseFields is a shorthand for a database-component log line.
func DatabaseFields(operation, table string) Fields {
	return NewFields().Component("database").Operation(operation).Resource("table", table)
}

// StoreFields is a shorthand for a key/value store log line.
func StoreFields(operation, key string) Fields {
	return NewFields().Component("store").Operation(operation).Resource("key", key)
}

// HTTPFields is a shorthand for an HTTP request/response log line.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().Component("http").Method(method).URL(url).StatusCode(statusCode)
}

// ModelFields is a shorthand for a model-gateway invocation log line.
func ModelFields(operation, modelID string) Fields {
	return NewFields().Component("model").Operation(operation).Resource("model", modelID)
}

// AgentFields is a shorthand for an agent-runtime log line.
func AgentFields(operation, agentID string) Fields {
	return NewFields().Component("agent").Operation(operation).Resource("agent", agentID)
}

// PhaseFields is a shorthand for a phase-executor log line.
func PhaseFields(phaseName string) Fields {
	return NewFields().Component("phase").Resource("phase", phaseName)
}

// AIFields is a shorthand for an LLM-related log line.
func AIFields(operation, model string) Fields {
	return NewFields().Component("ai").Operation(operation).Custom("model", model)
}

// MetricsFields is a shorthand for a metrics-recording log line.
func MetricsFields(operation, metricName string, value float64) Fields {
	return NewFields().Component("metrics").Operation(operation).Custom("metric_name", metricName).Custom("value", value)
}

// SecurityFields is a shorthand for a security-relevant log line.
func SecurityFields(operation, subject string) Fields {
	return NewFields().Component("security").Operation(operation).Custom("subject", subject)
}

// PerformanceFields is a shorthand for a timing/outcome log line.
func PerformanceFields(operation string, d time.Duration, success bool) Fields {
	return NewFields().Component("performance").Operation(operation).Duration(d).Custom("success", success)
}
