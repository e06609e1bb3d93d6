package invoice

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltAuditStore", func() {
	var (
		ctx   context.Context
		store *BoltAuditStore
		base  time.Time
	)

	entryAt := func(id string, actor *string, offset time.Duration) *AuditLogEntry {
		return &AuditLogEntry{
			ID:         id,
			ActorID:    actor,
			FileName:   id + ".pdf",
			FileSize:   2048,
			NumPages:   1,
			TokensUsed: 1500,
			Status:     StatusSuccess,
			CreatedAt:  base.Add(offset),
			InputData:  map[string]any{"file_name": id + ".pdf"},
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		base = time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
		var err error
		store, err = NewBoltAuditStore(filepath.Join(GinkgoT().TempDir(), "audit.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	Describe("Append", func() {
		It("should store an entry that can be read back", func() {
			entry := entryAt("one", strPtr("user-7"), 0)
			entry.OutputData = sampleInvoice(118)
			Expect(store.Append(ctx, entry)).To(Succeed())

			entries, err := store.Recent(ctx, nil, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ID).To(Equal("one"))
			Expect(*entries[0].ActorID).To(Equal("user-7"))
			Expect(entries[0].CreatedAt.Equal(entry.CreatedAt)).To(BeTrue())
			Expect(entries[0].OutputData.TotalAmountNis).To(Equal(118.0))
			Expect(entries[0].OutputData.Items).To(HaveLen(2))
		})

		It("should refuse to overwrite an existing entry", func() {
			entry := entryAt("one", nil, 0)
			Expect(store.Append(ctx, entry)).To(Succeed())
			Expect(store.Append(ctx, entry)).To(MatchError(ContainSubstring("already exists")))
		})

		It("should reject an entry without an id", func() {
			Expect(store.Append(ctx, entryAt("", nil, 0))).NotTo(Succeed())
			Expect(store.Append(ctx, nil)).NotTo(Succeed())
		})

		It("should honor a cancelled context", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			Expect(store.Append(cancelled, entryAt("one", nil, 0))).To(MatchError(context.Canceled))
		})
	})

	Describe("Recent", func() {
		BeforeEach(func() {
			// Appended out of order; creation time decides the order.
			Expect(store.Append(ctx, entryAt("second", strPtr("user-7"), time.Minute))).To(Succeed())
			Expect(store.Append(ctx, entryAt("first", strPtr("user-7"), 0))).To(Succeed())
			Expect(store.Append(ctx, entryAt("other", strPtr("user-8"), 2*time.Minute))).To(Succeed())
			Expect(store.Append(ctx, entryAt("third", strPtr("user-7"), 3*time.Minute))).To(Succeed())
		})

		It("should return the actor's entries newest first", func() {
			entries, err := store.Recent(ctx, strPtr("user-7"), 10)
			Expect(err).NotTo(HaveOccurred())
			ids := make([]string, 0, len(entries))
			for _, e := range entries {
				ids = append(ids, e.ID)
			}
			Expect(ids).To(Equal([]string{"third", "second", "first"}))
		})

		It("should return every actor's entries for a nil actor", func() {
			entries, err := store.Recent(ctx, nil, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(4))
			Expect(entries[1].ID).To(Equal("other"))
		})

		It("should stop at the limit", func() {
			entries, err := store.Recent(ctx, strPtr("user-7"), 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[0].ID).To(Equal("third"))
		})

		It("should return an empty slice for an unknown actor", func() {
			entries, err := store.Recent(ctx, strPtr("nobody"), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).NotTo(BeNil())
			Expect(entries).To(BeEmpty())
		})
	})
})
