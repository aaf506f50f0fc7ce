package testhelpers

import (
	"encoding/json"
	"net/http"
	"time"

	. "github.com/onsi/gomega"

	"github.com/domainscout/engine/pkg/types"
)

// TestResponse represents the response from a /domains request
type TestResponse struct {
	StatusCode int
	Headers    http.Header
	Body       string
	Duration   time.Duration
	Error      error
}

// ExpectNoError checks that the response has no network errors
func ExpectNoError(response *TestResponse) {
	Expect(response).NotTo(BeNil(), "Response should not be nil")
	Expect(response.Error).To(BeNil(), "Request should not have network errors")
}

// ParseReport decodes the response body as a domain report
func ParseReport(response *TestResponse) *types.DomainReport {
	ExpectNoError(response)
	var report types.DomainReport
	Expect(json.Unmarshal([]byte(response.Body), &report)).To(Succeed(),
		"Response body should be a domain report: %s", response.Body)
	return &report
}

// ExpectOKReport verifies a 200 response carrying a successful scan report
func ExpectOKReport(response *TestResponse, domain string) *types.DomainReport {
	ExpectNoError(response)
	Expect(response.StatusCode).To(Equal(http.StatusOK),
		"Expected 200, got %d: %s", response.StatusCode, response.Body)

	report := ParseReport(response)
	Expect(report.Domain).To(Equal(domain))
	Expect(report.Status).To(Equal(types.ScanStatusOK))
	Expect(report.RelatedDomains).To(ContainElement(domain),
		"Related domains should include the origin")
	Expect(report.FinalURL).NotTo(BeEmpty())
	return report
}

// ExpectSkippedReport verifies a 200 response with a skipped origin-only report
func ExpectSkippedReport(response *TestResponse, domain string) *types.DomainReport {
	ExpectNoError(response)
	Expect(response.StatusCode).To(Equal(http.StatusOK),
		"Expected 200, got %d: %s", response.StatusCode, response.Body)

	report := ParseReport(response)
	Expect(report.Status).To(Equal(types.ScanStatusSkipped))
	Expect(report.Reason).NotTo(BeEmpty(), "Skipped reports carry a reason tag")
	Expect(report.RelatedDomains).To(ConsistOf(domain),
		"Skipped reports are origin-only")
	return report
}

// ExpectErrorBody verifies the unified {"error","code"} error payload
func ExpectErrorBody(response *TestResponse, statusCode int, code string) {
	ExpectNoError(response)
	Expect(response.StatusCode).To(Equal(statusCode),
		"Expected status code %d, got %d: %s", statusCode, response.StatusCode, response.Body)

	var body map[string]interface{}
	Expect(json.Unmarshal([]byte(response.Body), &body)).To(Succeed())
	Expect(body["code"]).To(Equal(code))
	Expect(body["error"]).NotTo(BeEmpty())
}

// ExpectCachedReport verifies that the report was served from cache
func ExpectCachedReport(report *types.DomainReport) {
	Expect(report.Cached).To(BeTrue(), "Report should be served from cache")
	Expect(report.CachedAt).To(BeNumerically(">", 0))
	Expect(report.TTLAt).To(BeNumerically(">", report.CachedAt))
}

// ExpectResponseTime verifies that response time is within acceptable limits
func ExpectResponseTime(response *TestResponse, maxDuration time.Duration) {
	Expect(response.Duration).To(BeNumerically("<=", maxDuration),
		"Response time should be under %v, got %v", maxDuration, response.Duration)
}
