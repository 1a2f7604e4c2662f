package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "coursequiz"

var (
	admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admissions_total",
		Help:      "Quiz attempt admission decisions by result.",
	}, []string{"result"})

	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Recorded quiz attempts by outcome.",
	}, []string{"passed", "forfeited"})
)

const (
	AdmissionAdmitted = "admitted"
	AdmissionRejected = "rejected"
)

func RecordAdmission(result string) {
	admissions.WithLabelValues(result).Inc()
}

func RecordSubmission(passed, forfeited bool) {
	submissions.WithLabelValues(strconv.FormatBool(passed), strconv.FormatBool(forfeited)).Inc()
}
