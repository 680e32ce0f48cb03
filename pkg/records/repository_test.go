package records_test

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lissto-dev/imagecache/pkg/placeholder"
	"github.com/lissto-dev/imagecache/pkg/records"
)

var _ = Describe("SQLRepository", func() {
	var (
		db   *records.DB
		repo *records.SQLRepository
		ctx  context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = records.Open(ctx, records.DriverSQLite, filepath.Join(GinkgoT().TempDir(), "images.db"))
		Expect(err).NotTo(HaveOccurred())
		repo = records.NewSQLRepository(db)

		ratio := 1.5
		Expect(repo.Upsert(ctx, &records.ImageRecord{
			ID: "1", Key: "hero-banner", StoragePath: "images/images/hero-banner.webp",
			Category: "hero", TinyPlaceholder: "data:image/webp;base64,AAAA", DominantColor: "#336699",
			AspectRatio: &ratio,
		})).To(Succeed())
		Expect(repo.Upsert(ctx, &records.ImageRecord{
			ID: "2", Key: "logo", StoragePath: "images/logo.png",
		})).To(Succeed())
	})

	AfterEach(func() {
		Expect(db.Close()).To(Succeed())
	})

	It("lists records ordered by key", func() {
		list, err := repo.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(2))
		Expect(list[0].Key).To(Equal("hero-banner"))
		Expect(*list[0].AspectRatio).To(BeNumerically("~", 1.5))
		Expect(list[1].AspectRatio).To(BeNil())
	})

	It("gets a record by key", func() {
		rec, err := repo.GetByKey(ctx, "logo")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.ID).To(Equal("2"))
		Expect(rec.StoragePath).To(Equal("images/logo.png"))
	})

	It("reports a missing key", func() {
		_, err := repo.GetByKey(ctx, "missing")
		Expect(errors.Is(err, records.ErrRecordNotFound)).To(BeTrue())
	})

	It("replaces a record on key conflict", func() {
		Expect(repo.Upsert(ctx, &records.ImageRecord{
			ID: "1", Key: "hero-banner", StoragePath: "images/hero-banner.webp",
		})).To(Succeed())

		rec, err := repo.GetByKey(ctx, "hero-banner")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.StoragePath).To(Equal("images/hero-banner.webp"))
		Expect(rec.DominantColor).To(BeEmpty())
	})

	It("updates a stored path", func() {
		Expect(repo.UpdatePath(ctx, "1", "images/hero-banner.webp")).To(Succeed())

		rec, err := repo.GetByKey(ctx, "hero-banner")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.StoragePath).To(Equal("images/hero-banner.webp"))
	})

	It("fails to update an unknown id", func() {
		err := repo.UpdatePath(ctx, "nope", "images/x.webp")
		Expect(errors.Is(err, records.ErrRecordNotFound)).To(BeTrue())
	})

	It("serves as a placeholder source", func() {
		var source placeholder.Source = repo
		tiny, err := source.TinyPlaceholder(ctx, "hero-banner")
		Expect(err).NotTo(HaveOccurred())
		Expect(tiny).To(HavePrefix("data:image/webp"))

		color, err := source.ColorPlaceholder(ctx, "hero-banner")
		Expect(err).NotTo(HaveOccurred())
		Expect(color).To(Equal("#336699"))
	})

	It("stores settings", func() {
		v, err := repo.Setting(ctx, "cache-version")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeEmpty())

		Expect(repo.SetSetting(ctx, "cache-version", "v2")).To(Succeed())
		Expect(repo.SetSetting(ctx, "cache-version", "v3")).To(Succeed())

		v, err = repo.Setting(ctx, "cache-version")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("v3"))
	})

	It("rejects unknown drivers", func() {
		_, err := records.Open(ctx, "mysql", "")
		Expect(err).To(HaveOccurred())
	})
})
