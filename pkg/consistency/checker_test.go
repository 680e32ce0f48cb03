package consistency_test

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/lissto-dev/imagecache/pkg/consistency"
	"github.com/lissto-dev/imagecache/pkg/records"
	"github.com/lissto-dev/imagecache/pkg/storagepath"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) List(ctx context.Context) ([]records.ImageRecord, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]records.ImageRecord)
	return list, args.Error(1)
}

func (m *mockStore) UpdatePath(_ context.Context, id, path string) error {
	return m.Called(id, path).Error(0)
}

type mockClearer struct {
	mock.Mock
}

func (m *mockClearer) ClearResolutionCaches(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

var _ = Describe("Checker", func() {
	var (
		ctx     context.Context
		clearer *mockClearer
	)

	BeforeEach(func() {
		ctx = context.Background()
		clearer = &mockClearer{}
		clearer.On("ClearResolutionCaches", mock.Anything).Return(nil)
	})

	It("fixes only non-canonical paths and isolates failures", func() {
		store := &mockStore{}
		store.On("List", ctx).Return([]records.ImageRecord{
			{ID: "1", StoragePath: "images/images/a.jpg"},
			{ID: "2", StoragePath: "images/b.jpg"},
			{ID: "3", StoragePath: "c.jpg"},
		}, nil)
		store.On("UpdatePath", "1", "images/a.jpg").Return(nil)
		store.On("UpdatePath", "3", "images/c.jpg").Return(errors.New("write failed"))

		checker := consistency.NewChecker(store, storagepath.New("images"), clearer, 2)
		res, err := checker.CheckAndFix(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Scanned).To(Equal(3))
		Expect(res.Fixed).To(Equal(1))
		Expect(res.Errors).To(Equal(1))
		Expect(res.Timestamp).NotTo(BeZero())
		store.AssertNotCalled(GinkgoT(), "UpdatePath", "2", mock.Anything)
		clearer.AssertNumberOfCalls(GinkgoT(), "ClearResolutionCaches", 1)
	})

	It("fails the run when records cannot be listed", func() {
		store := &mockStore{}
		store.On("List", ctx).Return(nil, errors.New("db down"))

		checker := consistency.NewChecker(store, storagepath.New("images"), clearer, 0)
		_, err := checker.CheckAndFix(ctx)

		Expect(err).To(HaveOccurred())
		clearer.AssertNotCalled(GinkgoT(), "ClearResolutionCaches", mock.Anything)
	})

	It("repairs paths in the records database", func() {
		db, err := records.Open(ctx, records.DriverSQLite, filepath.Join(GinkgoT().TempDir(), "images.db"))
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()
		repo := records.NewSQLRepository(db)
		Expect(repo.Upsert(ctx, &records.ImageRecord{ID: "1", Key: "hero", StoragePath: "/images/images/hero.webp"})).To(Succeed())
		Expect(repo.Upsert(ctx, &records.ImageRecord{ID: "2", Key: "logo", StoragePath: "images/logo.png"})).To(Succeed())

		res, err := consistency.NewChecker(repo, storagepath.New("images"), nil, 4).CheckAndFix(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Fixed).To(Equal(1))

		rec, err := repo.GetByKey(ctx, "hero")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.StoragePath).To(Equal("images/hero.webp"))

		again, err := consistency.NewChecker(repo, storagepath.New("images"), nil, 4).CheckAndFix(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Fixed).To(BeZero())
	})
})
