package scan_test

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/domainscout/engine/internal/scan/chrome"
	"github.com/domainscout/engine/pkg/types"
	"github.com/domainscout/engine/tests/testhelpers"
)

var _ = Describe("Domain scanning", func() {

	Describe("successful scans", func() {
		It("returns the observed hosts, final URL and redirect chain", func() {
			testEnv.Scanner.Script("ok-site.test", &types.ScanResult{
				Origin:   "ok-site.test",
				FinalURL: "https://www.ok-site.test/",
				RelatedDomains: []string{
					"cdn.ok-site.test", "ok-site.test", "www.ok-site.test",
				},
				RedirectChain: []types.RedirectHop{
					{From: "https://ok-site.test/", To: "https://www.ok-site.test/", Status: 301},
				},
			})

			resp := testEnv.QueryDomain("ok-site.test")
			report := testhelpers.ExpectOKReport(resp, "ok-site.test")

			Expect(report.FinalURL).To(Equal("https://www.ok-site.test/"))
			Expect(report.RelatedDomains).To(Equal([]string{
				"cdn.ok-site.test", "ok-site.test", "www.ok-site.test",
			}))
			Expect(report.RedirectChain).To(HaveLen(1))
			Expect(report.RedirectChain[0].Status).To(Equal(301))
			Expect(report.Cached).To(BeFalse())
		})

		It("normalises the requested domain before scanning", func() {
			resp := testEnv.QueryDomain("OK-Site.TEST")
			report := testhelpers.ParseReport(resp)
			Expect(report.Domain).To(Equal("ok-site.test"))
		})

		It("echoes a request id header", func() {
			resp := testEnv.QueryDomain("ok-site.test", map[string]string{
				"X-Request-ID": "trace-123",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Headers.Get("X-Request-ID")).To(ContainSubstring("trace-123"))
		})
	})

	Describe("caching", func() {
		It("serves the second request from cache without rescanning", func() {
			first := testEnv.QueryDomain("cached-site.test")
			firstReport := testhelpers.ExpectOKReport(first, "cached-site.test")
			Expect(firstReport.Cached).To(BeFalse())

			second := testEnv.QueryDomain("cached-site.test")
			secondReport := testhelpers.ExpectOKReport(second, "cached-site.test")
			testhelpers.ExpectCachedReport(secondReport)

			Expect(secondReport.FinalURL).To(Equal(firstReport.FinalURL))
			Expect(secondReport.RelatedDomains).To(Equal(firstReport.RelatedDomains))
			Expect(testEnv.Scanner.CallsFor("cached-site.test")).To(HaveLen(1))
		})

		It("supports ETag revalidation on cached reports", func() {
			first := testEnv.QueryDomain("etag-site.test")
			Expect(first.StatusCode).To(Equal(http.StatusOK))

			cached := testEnv.QueryDomain("etag-site.test")
			etag := cached.Headers.Get("ETag")
			Expect(etag).NotTo(BeEmpty())

			revalidated := testEnv.QueryDomain("etag-site.test", map[string]string{
				"If-None-Match": etag,
			})
			Expect(revalidated.StatusCode).To(Equal(http.StatusNotModified))
			Expect(revalidated.Body).To(BeEmpty())
		})
	})

	Describe("precheck routing", func() {
		It("skips attachment responses without spending a browser session", func() {
			resp := testEnv.QueryDomain("attachment-site.test")
			report := testhelpers.ExpectSkippedReport(resp, "attachment-site.test")

			Expect(report.Reason).To(Equal(types.ReasonAttachment))
			Expect(testEnv.Scanner.CallsFor("attachment-site.test")).To(BeEmpty())
		})

		It("skips non-HTML content types", func() {
			resp := testEnv.QueryDomain("feed-site.test")
			report := testhelpers.ExpectSkippedReport(resp, "feed-site.test")

			Expect(report.Reason).To(ContainSubstring("application/json"))
			Expect(testEnv.Scanner.CallsFor("feed-site.test")).To(BeEmpty())
		})

		It("skips redirects that land on downloadable files", func() {
			resp := testEnv.QueryDomain("filehop-site.test")
			report := testhelpers.ExpectSkippedReport(resp, "filehop-site.test")

			Expect(report.Reason).To(ContainSubstring("report.pdf"))
			Expect(report.FinalURL).To(ContainSubstring("report.pdf"))
		})

		It("skips self-referential redirect loops", func() {
			resp := testEnv.QueryDomain("loop-site.test")
			report := testhelpers.ExpectSkippedReport(resp, "loop-site.test")

			Expect(report.Reason).To(Equal(types.ReasonRedirectLoop))
			Expect(testEnv.Scanner.CallsFor("loop-site.test")).To(BeEmpty())
		})

		It("follows marketing redirects and scans the landing page", func() {
			resp := testEnv.QueryDomain("promo-site.test")
			report := testhelpers.ExpectOKReport(resp, "promo-site.test")

			Expect(report.Note).To(ContainSubstring("/site/landing"))
			calls := testEnv.Scanner.CallsFor("promo-site.test")
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].StartURL).To(ContainSubstring("/site/landing"))
		})
	})

	Describe("failure handling", func() {
		It("maps a blocked browser scan of a 403 site to HTTP 403", func() {
			testEnv.Scanner.Fail("wall-site.test",
				fmt.Errorf("navigation failed: net::ERR_BLOCKED_BY_RESPONSE"))

			resp := testEnv.QueryDomain("wall-site.test")
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))

			report := testhelpers.ParseReport(resp)
			Expect(report.Status).To(Equal(types.ScanStatusBlocked))
			Expect(report.Reason).To(Equal(types.ReasonForbidden))
			Expect(resp.Body).To(ContainSubstring(`"code":"FORBIDDEN"`))
		})

		It("reports a redirect-limited scan as blocked", func() {
			testEnv.Scanner.Fail("spinner-site.test",
				fmt.Errorf("%w (%d)", chrome.ErrTooManyRedirects, types.DefaultMaxRedirectSteps))

			resp := testEnv.QueryDomain("spinner-site.test")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			report := testhelpers.ParseReport(resp)
			Expect(report.Status).To(Equal(types.ScanStatusBlocked))
			Expect(report.Reason).To(Equal(
				types.ReasonRedirectLoopExceeded(types.DefaultMaxRedirectSteps)))
		})

		It("maps a crashed scan to HTTP 500", func() {
			testEnv.Scanner.Fail("crashed-site.test",
				fmt.Errorf("browser process exited unexpectedly"))

			resp := testEnv.QueryDomain("crashed-site.test")
			testhelpers.ExpectErrorBody(resp, http.StatusInternalServerError, types.CodeInternal)
		})

		It("rejects unscannable input with 400", func() {
			resp := testEnv.QueryDomain("not%20a%20domain%20at%20all")
			testhelpers.ExpectErrorBody(resp, http.StatusBadRequest, types.CodeBadDomain)
		})

		It("rejects private targets with 403", func() {
			resp := testEnv.QueryDomain("192.168.1.1")
			testhelpers.ExpectErrorBody(resp, http.StatusForbidden, types.CodeForbidden)
		})

		It("requires the domain parameter", func() {
			resp := testEnv.Get("/domains")
			testhelpers.ExpectErrorBody(resp, http.StatusBadRequest, types.CodeBadDomain)
		})
	})

	Describe("HTTP surface", func() {
		It("answers the health check", func() {
			resp := testEnv.Get("/health")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Body).To(MatchJSON(`{"ok":true}`))
		})

		It("returns 404 for unknown paths", func() {
			resp := testEnv.Get("/unknown")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("scan events", func() {
		It("appends one event line per completed request", func() {
			resp := testEnv.QueryDomain("ok-site.test")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			Eventually(func() string {
				data, err := os.ReadFile(testEnv.EventsFile)
				if err != nil {
					return ""
				}
				return string(data)
			}, 3, 0.1).Should(ContainSubstring("ok-site.test"))

			data, err := os.ReadFile(testEnv.EventsFile)
			Expect(err).NotTo(HaveOccurred())
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			Expect(len(lines)).To(BeNumerically(">=", 1))
		})
	})
})
