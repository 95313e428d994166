package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bigpicture/pujo-pictures/src/api/apperr"
)

const namespace = "pujo"

// Observer exports submission and moderation metrics. A nil *Observer is
// valid and records nothing.
type Observer struct {
	submissions   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	upstreamErrs  *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) (*Observer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &Observer{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submit requests by result kind.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_transitions_total",
			Help:      "Moderation actions by action and result kind.",
		}, []string{"action", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_sync_total",
			Help:      "Moderation card posts and edits by outcome.",
		}, []string{"op", "result"}),
		upstreamErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failures of external collaborators.",
		}, []string{"collaborator"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of submit and moderation operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	var err error
	if o.submissions, err = register(reg, o.submissions); err != nil {
		return nil, err
	}
	if o.transitions, err = register(reg, o.transitions); err != nil {
		return nil, err
	}
	if o.notifications, err = register(reg, o.notifications); err != nil {
		return nil, err
	}
	if o.upstreamErrs, err = register(reg, o.upstreamErrs); err != nil {
		return nil, err
	}
	if o.duration, err = register(reg, o.duration); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds c to reg, or returns the collector already registered
// under the same description.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}

func (o *Observer) ObserveSubmission(started time.Time, err error) {
	if o == nil {
		return
	}
	o.submissions.WithLabelValues(result(err)).Inc()
	o.duration.WithLabelValues("submit").Observe(time.Since(started).Seconds())
	o.upstream(err)
}

func (o *Observer) ObserveTransition(action string, started time.Time, err error) {
	if o == nil {
		return
	}
	o.transitions.WithLabelValues(action, result(err)).Inc()
	o.duration.WithLabelValues(action).Observe(time.Since(started).Seconds())
	o.upstream(err)
}

func (o *Observer) ObserveNotification(op string, err error) {
	if o == nil {
		return
	}
	res := "ok"
	if err != nil {
		res = "failed"
		o.upstreamErrs.WithLabelValues("discord").Inc()
	}
	o.notifications.WithLabelValues(op, res).Inc()
}

func (o *Observer) upstream(err error) {
	if apperr.KindOf(err) != apperr.KindUpstream {
		return
	}
	c := apperr.CollaboratorOf(err)
	if c == "" {
		c = "unknown"
	}
	o.upstreamErrs.WithLabelValues(c).Inc()
}
