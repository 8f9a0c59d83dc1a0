package datafetcher_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/disruption-ops/orchestrator/internal/errors"
	"github.com/disruption-ops/orchestrator/pkg/datafetcher"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDataFetcher(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Data Fetcher Suite")
}

func newTestFetcher(mr *miniredis.Miniredis) (*datafetcher.Fetcher, *redis.Client) {
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cfg := datafetcher.Config{
		RetryMaxAttempts: 2,
		RetryBaseDelay:   1 * time.Millisecond,
	}
	return datafetcher.New(client, cfg, logger), client
}

var _ = Describe("Fetcher", func() {
	var (
		mr     *miniredis.Miniredis
		f      *datafetcher.Fetcher
		client *redis.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		f, client = newTestFetcher(mr)
		ctx = context.Background()
	})

	AfterEach(func() {
		mr.Close()
	})

	Describe("PointGet", func() {
		It("should fetch a stored record by key", func() {
			client.HSet(ctx, "flight:EY123:2026-07-31", "status", "cancelled", "compensation", "450.00")

			record, err := f.PointGet(ctx, "flight:EY123:2026-07-31")
			Expect(err).NotTo(HaveOccurred())
			Expect(record.Fields["status"]).To(Equal("cancelled"))
			Expect(record.Numeric["compensation"]).To(Equal(450.00))
		})

		It("should return a validation error for a missing key", func() {
			_, err := f.PointGet(ctx, "flight:missing")
			Expect(err).To(HaveOccurred())
			Expect(errors.IsType(err, errors.ErrorTypeValidation)).To(BeTrue())
		})
	})

	Describe("RangeQuery", func() {
		It("should return records within the indexed score range", func() {
			client.HSet(ctx, "flight:EY100", "status", "delayed")
			client.HSet(ctx, "flight:EY200", "status", "on_time")
			client.HSet(ctx, "flight:EY300", "status", "cancelled")

			client.ZAdd(ctx, "flights_by_date", redis.Z{Score: 100, Member: "flight:EY100"})
			client.ZAdd(ctx, "flights_by_date", redis.Z{Score: 200, Member: "flight:EY200"})
			client.ZAdd(ctx, "flights_by_date", redis.Z{Score: 300, Member: "flight:EY300"})

			records, err := f.RangeQuery(ctx, "flights_by_date", 150, 250)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Key).To(Equal("flight:EY200"))
		})

		It("should return no records when the range is empty", func() {
			records, err := f.RangeQuery(ctx, "flights_by_date", 0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})
	})

	Describe("FilterScan", func() {
		It("should apply a client-side predicate across matching keys", func() {
			client.HSet(ctx, "flight:EY100", "status", "cancelled")
			client.HSet(ctx, "flight:EY200", "status", "on_time")
			client.HSet(ctx, "flight:EY300", "status", "cancelled")

			records, err := f.FilterScan(ctx, "flight:*", func(r *datafetcher.Record) bool {
				return r.Fields["status"] == "cancelled"
			}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
		})

		It("should stop once the limit is reached", func() {
			for i := 0; i < 5; i++ {
				client.HSet(ctx, fmt.Sprintf("flight:EY%d", i), "status", "cancelled")
			}

			records, err := f.FilterScan(ctx, "flight:*", nil, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))
		})
	})

	Describe("store unavailability", func() {
		It("should return a transient error once the store is unreachable", func() {
			mr.Close()
			_, err := f.PointGet(ctx, "flight:EY123")
			Expect(err).To(HaveOccurred())
			Expect(errors.IsType(err, errors.ErrorTypeTransient)).To(BeTrue())
		})
	})
})
