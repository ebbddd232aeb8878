package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/clinicsched/libs/metrics"
)

// Register mounts the scheduling API on mux. A nil collector skips
// per-route metrics.
func Register(mux *http.ServeMux, avail *AvailabilityHandler, appts *AppointmentHandler, collector *metrics.Collector) {
	routes := []struct {
		path    string
		handler http.HandlerFunc
	}{
		{"/api/v1/availability/doctors", avail.Doctors},
		{"/api/v1/availability/slots", avail.Slots},
		{"/api/v1/availability/resources", avail.Resources},
		{"/api/v1/availability/times", avail.Times},
		{"/api/v1/appointments", appts.Get},
		{"/api/v1/appointments/search", appts.Search},
		{"/api/v1/appointments/book", appts.Book},
		{"/api/v1/appointments/reschedule", appts.Reschedule},
		{"/api/v1/appointments/delay", appts.Delay},
		{"/api/v1/appointments/status", appts.Status},
	}
	for _, rt := range routes {
		mux.Handle(rt.path, collector.Middleware(rt.path)(rt.handler))
	}
}
