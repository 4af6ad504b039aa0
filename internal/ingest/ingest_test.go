package ingest_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/aiopscore/remediator/internal/domain"
	"github.com/aiopscore/remediator/internal/ingest"
)

func TestIngest(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Ingest Suite")
}

var _ = Describe("Validate", func() {
	It("accepts a well-formed alert", func() {
		err := ingest.Validate(domain.AlertPayload{
			Title:     "checkout crash looping",
			Severity:  domain.SeverityCritical,
			Source:    "prometheus",
			Cluster:   "cluster-1",
			Namespace: "payments",
			StartedAt: time.Now(),
		})
		Expect(err).ToNot(HaveOccurred())
	})

	It("rejects an alert missing a required field", func() {
		err := ingest.Validate(domain.AlertPayload{
			Severity:  domain.SeverityCritical,
			Source:    "prometheus",
			Cluster:   "cluster-1",
			Namespace: "payments",
			StartedAt: time.Now(),
		})
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unknown severity", func() {
		err := ingest.Validate(domain.AlertPayload{
			Title:     "checkout crash looping",
			Severity:  "catastrophic",
			Source:    "prometheus",
			Cluster:   "cluster-1",
			Namespace: "payments",
			StartedAt: time.Now(),
		})
		Expect(err).To(HaveOccurred())
	})
})
