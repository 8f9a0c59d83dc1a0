package validation

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Validation", func() {
	Describe("ValidateAgentID", func() {
		Context("with a valid id", func() {
			It("should pass validation", func() {
				Expect(ValidateAgentID("regulatory_compliance")).NotTo(HaveOccurred())
			})
		})

		Context("when id is empty", func() {
			It("should return a validation error", func() {
				err := ValidateAgentID("")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("agent_id is required"))
			})
		})

		Context("when id is too long", func() {
			It("should return a validation error", func() {
				err := ValidateAgentID(strings.Repeat("a", 64))
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("63 characters or less"))
			})
		})

		Context("when id has invalid characters", func() {
			It("should reject uppercase", func() {
				err := ValidateAgentID("Regulatory")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("valid identifier"))
			})

			It("should reject a leading underscore", func() {
				err := ValidateAgentID("_regulatory")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("valid identifier"))
			})
		})
	})

	Describe("ValidateStringInput", func() {
		It("should pass clean input", func() {
			Expect(ValidateStringInput("field", "clean input", 100)).NotTo(HaveOccurred())
		})

		It("should reject input over the max length", func() {
			err := ValidateStringInput("field", "toolong", 5)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("5 characters or less"))
		})

		It("should detect UNION attacks", func() {
			err := ValidateStringInput("field", "'; UNION SELECT * FROM flights --", 100)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsafe characters"))
		})

		It("should detect script injection", func() {
			err := ValidateStringInput("field", "<script>alert(1)</script>", 100)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsafe characters"))
		})

		It("should detect control characters", func() {
			err := ValidateStringInput("field", "input"+string(rune(0x01)), 100)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("invalid control characters"))
		})

		It("should allow valid whitespace", func() {
			Expect(ValidateStringInput("field", "input\twith\nlines\r", 100)).NotTo(HaveOccurred())
		})
	})

	Describe("ValidateFetcherOperation", func() {
		It("should accept known operations", func() {
			for _, op := range []string{"point_get", "range_query", "filter_scan"} {
				Expect(ValidateFetcherOperation(op)).NotTo(HaveOccurred())
			}
		})

		It("should reject unknown operations", func() {
			err := ValidateFetcherOperation("delete_everything")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("not a recognized fetcher operation"))
		})
	})

	Describe("ValidateTimeRange", func() {
		It("should accept valid ranges", func() {
			for _, tr := range []string{"1h", "24h", "7d", "60m"} {
				Expect(ValidateTimeRange(tr)).NotTo(HaveOccurred())
			}
		})

		It("should reject invalid format", func() {
			err := ValidateTimeRange("invalid")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("must be in format like"))
		})
	})

	Describe("ValidateWindowMinutes", func() {
		It("should accept valid windows", func() {
			for _, w := range []int{1, 60, 1440, 10080} {
				Expect(ValidateWindowMinutes(w)).NotTo(HaveOccurred())
			}
		})

		It("should reject zero and negative", func() {
			Expect(ValidateWindowMinutes(0)).To(HaveOccurred())
			Expect(ValidateWindowMinutes(-1)).To(HaveOccurred())
		})

		It("should reject values over 7 days", func() {
			err := ValidateWindowMinutes(20000)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("10080 minutes"))
		})
	})

	Describe("ValidateLimit", func() {
		It("should accept valid limits", func() {
			for _, l := range []int{1, 50, 10000} {
				Expect(ValidateLimit(l)).NotTo(HaveOccurred())
			}
		})

		It("should reject zero and too-large limits", func() {
			Expect(ValidateLimit(0)).To(HaveOccurred())
			err := ValidateLimit(50000)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("10000 or less"))
		})
	})

	Describe("SanitizeForLogging", func() {
		It("should return clean input unchanged", func() {
			Expect(SanitizeForLogging("clean text")).To(Equal("clean text"))
		})

		It("should replace control characters", func() {
			input := "text" + string(rune(0x01)) + "more"
			Expect(SanitizeForLogging(input)).To(Equal("text?more"))
		})

		It("should preserve valid whitespace", func() {
			input := "text\twith\nlines\r"
			Expect(SanitizeForLogging(input)).To(Equal(input))
		})

		It("should truncate long strings", func() {
			result := SanitizeForLogging(strings.Repeat("a", 300))
			Expect(len(result)).To(Equal(200))
			Expect(result).To(HaveSuffix("..."))
		})
	})
})
