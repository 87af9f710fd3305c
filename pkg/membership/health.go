package membership

// HealthReporter is implemented by components that can summarise how
// degraded their view of the cluster is. Higher is worse; -1 means the
// component is not running.
type HealthReporter interface {
    HealthScore() int
}
