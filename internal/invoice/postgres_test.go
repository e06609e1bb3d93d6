package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	pgxmock "github.com/pashagolub/pgxmock/v2"
)

var _ = Describe("PostgresAuditStore", func() {
	var (
		ctx   context.Context
		mock  pgxmock.PgxPoolIface
		store *PostgresAuditStore
		now   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
		var err error
		mock, err = pgxmock.NewPool()
		Expect(err).NotTo(HaveOccurred())
		store = NewPostgresAuditStoreWithDB(mock)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
		mock.Close()
	})

	Describe("EnsureSchema", func() {
		It("should create the audit_logs table", func() {
			mock.ExpectExec(`CREATE TABLE IF NOT EXISTS audit_logs`).
				WillReturnResult(pgxmock.NewResult("CREATE", 0))
			Expect(store.EnsureSchema(ctx)).To(Succeed())
		})

		It("should wrap failures", func() {
			mock.ExpectExec(`CREATE TABLE`).WillReturnError(errors.New("permission denied"))
			Expect(store.EnsureSchema(ctx)).To(MatchError(ContainSubstring("creating audit_logs table")))
		})
	})

	Describe("Append", func() {
		var entry *AuditLogEntry

		BeforeEach(func() {
			entry = &AuditLogEntry{
				ID:         "entry-1",
				ActorID:    strPtr("user-7"),
				FileName:   "invoice.pdf",
				FileSize:   2048,
				NumPages:   3,
				TokensUsed: 1500,
				Status:     StatusSuccess,
				CreatedAt:  now,
				InputData:  map[string]any{"file_name": "invoice.pdf", "file_size": 2048},
				OutputData: sampleInvoice(118),
			}
		})

		It("should insert every column", func() {
			mock.ExpectExec(`INSERT INTO audit_logs \(id,user_id,file_name,file_size,num_pages,tokens_used,status,created_at,input_data,output_data,error_message\) VALUES \(\$1,\$2,\$3,\$4,\$5,\$6,\$7,\$8,\$9,\$10,\$11\)`).
				WithArgs("entry-1", entry.ActorID, "invoice.pdf", int64(2048), 3, 1500, StatusSuccess, now,
					pgxmock.AnyArg(), pgxmock.AnyArg(), entry.ErrorMessage).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))

			Expect(store.Append(ctx, entry)).To(Succeed())
		})

		It("should wrap database errors", func() {
			mock.ExpectExec(`INSERT INTO audit_logs`).
				WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
					pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
				WillReturnError(errors.New("duplicate key value violates unique constraint"))

			Expect(store.Append(ctx, entry)).To(MatchError(ContainSubstring("inserting audit entry")))
		})

		It("should reject an entry without an id", func() {
			entry.ID = ""
			Expect(store.Append(ctx, entry)).NotTo(Succeed())
		})
	})

	Describe("Recent", func() {
		var columns []string

		BeforeEach(func() {
			columns = auditColumns
		})

		It("should filter by actor, newest first", func() {
			output, err := json.Marshal(sampleInvoice(118))
			Expect(err).NotTo(HaveOccurred())
			errMsg := (*string)(nil)

			rows := pgxmock.NewRows(columns).
				AddRow("b", strPtr("user-7"), "b.pdf", int64(10), 1, 20, StatusSuccess, now.Add(time.Minute),
					[]byte(`{"file_name":"b.pdf"}`), output, errMsg).
				AddRow("a", strPtr("user-7"), "a.png", int64(5), 1, 0, StatusError, now,
					[]byte(`{"file_name":"a.png"}`), []byte(nil), strPtr("decode failed"))

			mock.ExpectQuery(`SELECT .+ FROM audit_logs WHERE user_id = \$1 ORDER BY created_at DESC LIMIT 10`).
				WithArgs("user-7").
				WillReturnRows(rows)

			entries, err := store.Recent(ctx, strPtr("user-7"), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(2))

			Expect(entries[0].ID).To(Equal("b"))
			Expect(entries[0].InputData).To(HaveKeyWithValue("file_name", "b.pdf"))
			Expect(entries[0].OutputData).NotTo(BeNil())
			Expect(entries[0].OutputData.TotalAmountNis).To(Equal(118.0))
			Expect(entries[0].ErrorMessage).To(BeNil())

			Expect(entries[1].Status).To(Equal(StatusError))
			Expect(entries[1].OutputData).To(BeNil())
			Expect(*entries[1].ErrorMessage).To(Equal("decode failed"))
		})

		It("should not filter for a nil actor", func() {
			mock.ExpectQuery(`SELECT .+ FROM audit_logs ORDER BY created_at DESC LIMIT 5`).
				WillReturnRows(pgxmock.NewRows(columns))

			entries, err := store.Recent(ctx, nil, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).NotTo(BeNil())
			Expect(entries).To(BeEmpty())
		})

		It("should wrap query errors", func() {
			mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("connection refused"))

			_, err := store.Recent(ctx, nil, 5)
			Expect(err).To(MatchError(ContainSubstring("querying audit entries")))
		})
	})
})
