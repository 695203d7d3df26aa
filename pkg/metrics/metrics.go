package metrics

const (
	// Namespace is the prometheus client namespace used by all exported metrics.
	Namespace = "quilkin"
	// Subsystem is the prometheus client subsystem used by all exported metrics.
	Subsystem = "udp_proxy"
)
