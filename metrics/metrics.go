package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CertificatesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "academy_certificates_issued_total",
		Help: "Certificates rendered and returned to the caller",
	})
	RenderFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "academy_certificate_render_failures_total",
		Help: "Certificate requests that failed while building the document",
	})
	PersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "academy_certificate_persist_failures_total",
		Help: "Issued certificates whose record could not be stored",
	})
	ArtifactUploadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "academy_certificate_artifact_upload_failures_total",
		Help: "Issued certificates whose PDF could not be uploaded",
	})
)

func init() {
	prometheus.MustRegister(CertificatesIssued, RenderFailures, PersistFailures, ArtifactUploadFailures)
}
