package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

const namespace = "gossip"

var (
    once sync.Once

    Members = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: namespace,
        Name:      "members",
        Help:      "Known peers by status, as seen by the local node",
    }, []string{"status"})

    StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "status_transitions_total",
        Help:      "Observed peer status transitions",
    }, []string{"from", "to"})

    Rounds = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "rounds_total",
        Help:      "Gossip rounds executed",
    })

    RoundDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
        Namespace: namespace,
        Name:      "round_duration_seconds",
        Help:      "Time spent selecting peers, encoding and sending one round",
        Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
    })

    MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "messages_sent_total",
        Help:      "Datagrams sent by kind (gossip, join, antientropy, leave)",
    }, []string{"kind"})

    BytesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "bytes_sent_total",
        Help:      "Payload bytes sent by kind",
    }, []string{"kind"})

    AntiEntropyBytes = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "antientropy_bytes_total",
        Help:      "Payload bytes sent by anti-entropy exchanges",
    })

    SendErrors = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "send_errors_total",
        Help:      "Datagrams the transport refused to send",
    })

    PrunedRecords = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "pruned_records_total",
        Help:      "Records left out of a message to respect the size limit",
    })

    MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "messages_received_total",
        Help:      "Datagrams decoded successfully",
    })

    DroppedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "dropped_messages_total",
        Help:      "Received datagrams discarded, by reason",
    }, []string{"reason"})

    Merges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "merges_total",
        Help:      "Merges of received state into the membership table",
    })

    MergeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
        Namespace: namespace,
        Name:      "merge_duration_seconds",
        Help:      "Time spent merging one received message",
        Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05},
    })

    MetadataUpdates = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "metadata_updates_total",
        Help:      "Accepted local metadata updates",
    })

    Refutations = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Name:      "refutations_total",
        Help:      "Times the local node bumped its version above a newer remote view of itself",
    })

    MgmtConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "mgmt_grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new management gRPC connections dialed",
    })
    MgmtConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "mgmt_grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of management gRPC connection reuses from cache",
    })
    MgmtConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: namespace,
        Subsystem: "mgmt_grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached management gRPC connections evicted",
    })
    MgmtConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: namespace,
        Subsystem: "mgmt_grpc_conn",
        Name:      "active",
        Help:      "Number of active cached management gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        MustRegisterTo(prometheus.DefaultRegisterer)
    })
}

// MustRegisterTo registers every collector with r.
func MustRegisterTo(r prometheus.Registerer) {
    r.MustRegister(
        Members, StatusTransitions,
        Rounds, RoundDuration,
        MessagesSent, BytesSent, AntiEntropyBytes, SendErrors, PrunedRecords,
        MessagesReceived, DroppedMessages,
        Merges, MergeDuration,
        MetadataUpdates, Refutations,
        MgmtConnDials, MgmtConnReuse, MgmtConnEvictions, MgmtConnActive,
    )
}
