package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
	"github.com/noah-isme/kelas-ledger-api/pkg/config"
	appErrors "github.com/noah-isme/kelas-ledger-api/pkg/errors"
	"github.com/noah-isme/kelas-ledger-api/pkg/export"
	"github.com/noah-isme/kelas-ledger-api/pkg/storage"
)

type statementLedgerRepository interface {
	ListPayments(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
	ListDeductionDetailsByStudent(ctx context.Context, studentID string, from, to *time.Time) ([]models.DeductionDetail, error)
	BalanceSummary(ctx context.Context, studentID string) (*models.BalanceSummary, error)
}

type statementStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// StatementRequest scopes a ledger statement.
type StatementRequest struct {
	StudentID string     `json:"student_id" validate:"required,uuid"`
	Format    string     `json:"format" validate:"required,oneof=csv pdf"`
	DateFrom  *time.Time `json:"date_from,omitempty"`
	DateTo    *time.Time `json:"date_to,omitempty"`
}

// StatementResult points at a generated statement file.
type StatementResult struct {
	Ref           string    `json:"ref"`
	Format        string    `json:"format"`
	FileName      string    `json:"file_name"`
	DownloadToken string    `json:"download_token"`
	ExpiresAt     time.Time `json:"expires_at"`
	Entries       int       `json:"entries"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// StatementService builds downloadable ledger statements. A statement
// interleaves credits in (payments) and credits out (deductions) in
// occurrence order and closes with the live balance summary.
type StatementService struct {
	ledger   statementLedgerRepository
	students statementStudentRepository
	files    *storage.LocalStorage
	signer   *storage.SignedURLSigner
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
	location *time.Location
}

// NewStatementService constructs the service. location governs how
// dates are rendered in the output.
func NewStatementService(
	ledger statementLedgerRepository,
	students statementStudentRepository,
	cfg config.StatementsConfig,
	location *time.Location,
	logger *zap.Logger,
) (*StatementService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	files, err := storage.NewLocalStorage(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("init statement storage: %w", err)
	}
	return &StatementService{
		ledger:   ledger,
		students: students,
		files:    files,
		signer:   storage.NewSignedURLSigner(cfg.SignedURLSecret, cfg.SignedURLTTL),
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
		location: location,
	}, nil
}

var statementColumns = []export.Column{
	{Key: "date", Title: "Date", Weight: 1.2},
	{Key: "type", Title: "Entry", Weight: 1},
	{Key: "class", Title: "Class", Weight: 2},
	{Key: "detail", Title: "Detail", Weight: 2.5},
	{Key: "credits", Title: "Credits", Weight: 0.8},
}

// Generate renders and stores a statement, returning a signed download token.
func (s *StatementService) Generate(ctx context.Context, req StatementRequest) (*StatementResult, error) {
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}

	payments, _, err := s.ledger.ListPayments(ctx, models.PaymentFilter{
		StudentID: req.StudentID,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
		PageSize:  1000,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	deductions, err := s.ledger.ListDeductionDetailsByStudent(ctx, req.StudentID, req.DateFrom, req.DateTo)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list deductions")
	}
	summary, err := s.ledger.BalanceSummary(ctx, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build balance summary")
	}

	table := s.buildTable(payments, deductions, summary)

	ref := uuid.NewString()
	fileName := fmt.Sprintf("%s/%s.%s", student.ID, ref, req.Format)
	title := fmt.Sprintf("Class Credit Statement: %s", student.FullName)
	subtitle := s.rangeLabel(req.DateFrom, req.DateTo)

	var payload []byte
	switch req.Format {
	case "pdf":
		payload, err = s.pdf.Render(table, title, subtitle)
	default:
		payload, err = s.csv.Render(table)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render statement")
	}

	if _, err := s.files.Save(fileName, payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store statement")
	}
	token, expiresAt, err := s.signer.Generate(ref, fileName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign statement url")
	}

	s.logger.Info("statement generated",
		zap.String("student_id", student.ID),
		zap.String("ref", ref),
		zap.String("format", req.Format),
		zap.Int("entries", len(table.Rows)))

	return &StatementResult{
		Ref:           ref,
		Format:        req.Format,
		FileName:      fileName,
		DownloadToken: token,
		ExpiresAt:     expiresAt,
		Entries:       len(table.Rows),
		GeneratedAt:   time.Now().UTC(),
	}, nil
}

// Resolve validates a download token and returns the stored file path.
func (s *StatementService) Resolve(token string) (string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	return s.files.Path(relPath), nil
}

func (s *StatementService) buildTable(payments []models.Payment, deductions []models.DeductionDetail, summary *models.BalanceSummary) export.Table {
	rows := make([]map[string]string, 0, len(payments)+len(deductions))

	// Payments arrive newest first from the repository; statements read
	// top to bottom, so walk them in reverse.
	pi := len(payments) - 1
	di := 0
	for pi >= 0 || di < len(deductions) {
		switch {
		case pi < 0:
			rows = append(rows, s.deductionRow(deductions[di]))
			di++
		case di >= len(deductions):
			rows = append(rows, s.paymentRow(payments[pi]))
			pi--
		case !payments[pi].PaymentDate.After(deductions[di].OccurrenceDate):
			rows = append(rows, s.paymentRow(payments[pi]))
			pi--
		default:
			rows = append(rows, s.deductionRow(deductions[di]))
			di++
		}
	}

	return export.Table{
		Columns: statementColumns,
		Rows:    rows,
		Summary: [][2]string{
			{"Credits purchased", strconv.Itoa(summary.ClassesPurchased)},
			{"Credits consumed", strconv.Itoa(summary.ClassesDeducted)},
			{"Credits remaining", strconv.Itoa(summary.ClassesRemaining)},
			{"Overdue sessions", strconv.Itoa(summary.OverdueCount)},
		},
	}
}

func (s *StatementService) paymentRow(p models.Payment) map[string]string {
	return map[string]string{
		"date":    p.PaymentDate.In(s.location).Format("2006-01-02"),
		"type":    "payment",
		"class":   "",
		"detail":  fmt.Sprintf("%s payment, %d classes", p.Method, p.ClassesPurchased),
		"credits": fmt.Sprintf("+%d", p.ClassesPurchased),
	}
}

func (s *StatementService) deductionRow(d models.DeductionDetail) map[string]string {
	detail := fmt.Sprintf("session at %s", d.StartTime)
	if d.Kind == models.DeductionKindOverdue {
		detail += " (overdue recovery)"
	}
	return map[string]string{
		"date":    d.OccurrenceDate.In(s.location).Format("2006-01-02"),
		"type":    "deduction",
		"class":   d.ClassName,
		"detail":  detail,
		"credits": fmt.Sprintf("-%d", d.ClassesDeducted),
	}
}

func (s *StatementService) rangeLabel(from, to *time.Time) string {
	switch {
	case from != nil && to != nil:
		return fmt.Sprintf("%s to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	case from != nil:
		return fmt.Sprintf("from %s", from.Format("2006-01-02"))
	case to != nil:
		return fmt.Sprintf("through %s", to.Format("2006-01-02"))
	default:
		return "full history"
	}
}
