package gcp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// Document is the Document AI client the Extractor collaborator
// (internal/jobs/collaborators) calls per compiled document to produce
// structured entities for the optional extraction stage. Trimmed from the
// teacher's richer Document service (which also drove batch GCS processing
// for a different per-course-material pipeline) down to the single
// synchronous-bytes call this stage needs; table/form markdown rendering is
// kept since minutes/agendas are table-heavy civic documents.
type Document interface {
	ProcessBytes(ctx context.Context, req DocAIProcessBytesRequest) (*DocAIResult, error)
	Close() error
}

type DocAIProcessBytesRequest struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	MimeType         string
	Data             []byte
	FieldMask        []string
}

// DocAIResult holds one document's extracted text, grouped by kind rather
// than the teacher's page/course-material Segment model: PrimaryText is the
// full-document text Document AI returns; Tables holds one markdown table
// per detected table; FormFields holds "key: value" lines for any detected
// form fields (useful for agenda item numbers, vote tallies, and similar
// structured civic-document fields).
type DocAIResult struct {
	Provider    string   `json:"provider"`
	Processor   string   `json:"processor"`
	MimeType    string   `json:"mime_type"`
	PrimaryText string   `json:"primary_text"`
	Tables      []string `json:"tables,omitempty"`
	FormFields  []string `json:"form_fields,omitempty"`
}

type documentService struct {
	log       *logger.Logger
	docClient *documentai.DocumentProcessorClient
}

func NewDocument(log *logger.Logger) (Document, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Document")

	ctx := context.Background()

	location := strings.TrimSpace(os.Getenv("DOCUMENTAI_LOCATION"))
	if location == "" {
		location = "us"
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)

	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	slog.Info("Document AI initialized", "endpoint", endpoint)

	return &documentService{
		log:       slog,
		docClient: c,
	}, nil
}

func (s *documentService) Close() error {
	if s == nil || s.docClient == nil {
		return nil
	}
	return s.docClient.Close()
}

func (s *documentService) ProcessBytes(ctx context.Context, req DocAIProcessBytesRequest) (*DocAIResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	if len(req.Data) == 0 {
		return &DocAIResult{Provider: "gcp_documentai", MimeType: req.MimeType}, nil
	}
	if req.MimeType == "" {
		req.MimeType = "application/pdf"
	}

	name := processorName(req.ProjectID, req.Location, req.ProcessorID, req.ProcessorVersion)

	r := &documentaipb.ProcessRequest{
		Name: name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  req.Data,
				MimeType: req.MimeType,
			},
		},
	}
	if len(req.FieldMask) > 0 {
		r.FieldMask = &fieldmaskpb.FieldMask{Paths: req.FieldMask}
	}

	resp, err := s.docClient.ProcessDocument(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return &DocAIResult{Provider: "gcp_documentai", Processor: name, MimeType: req.MimeType}, nil
	}

	return buildDocAIResult(resp.Document, name, req.MimeType), nil
}

func buildDocAIResult(doc *documentaipb.Document, processor string, mimeType string) *DocAIResult {
	out := &DocAIResult{
		Provider:  "gcp_documentai",
		Processor: processor,
		MimeType:  mimeType,
	}
	if doc == nil {
		return out
	}
	out.PrimaryText = strings.TrimSpace(doc.Text)

	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		for _, table := range p.Tables {
			if md := strings.TrimSpace(tableToMarkdown(doc.Text, table)); md != "" {
				out.Tables = append(out.Tables, md)
			}
		}
		for _, ff := range p.FormFields {
			if ff == nil {
				continue
			}
			k, v := "", ""
			if ff.FieldName != nil && ff.FieldName.TextAnchor != nil {
				k = strings.TrimSpace(textFromAnchor(doc.Text, ff.FieldName.TextAnchor))
			}
			if ff.FieldValue != nil && ff.FieldValue.TextAnchor != nil {
				v = strings.TrimSpace(textFromAnchor(doc.Text, ff.FieldValue.TextAnchor))
			}
			if k == "" && v == "" {
				continue
			}
			out.FormFields = append(out.FormFields, strings.TrimSpace(fmt.Sprintf("%s: %s", k, v)))
		}
	}
	return out
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || len(anchor.TextSegments) == 0 || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start := int(seg.StartIndex)
		end := int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func tableToMarkdown(full string, t *documentaipb.Document_Page_Table) string {
	if t == nil {
		return ""
	}

	header := []string{}
	if len(t.HeaderRows) > 0 && t.HeaderRows[0] != nil {
		header = tableRowToCells(full, t.HeaderRows[0])
	}
	bodyRows := append([]*documentaipb.Document_Page_Table_TableRow{}, t.BodyRows...)

	if len(header) == 0 && len(bodyRows) > 0 && bodyRows[0] != nil {
		header = tableRowToCells(full, bodyRows[0])
		bodyRows = bodyRows[1:]
	}
	if len(header) == 0 {
		return ""
	}

	rows := [][]string{header}
	for _, r := range bodyRows {
		if r == nil {
			continue
		}
		rows = append(rows, tableRowToCells(full, r))
	}

	maxCols := 0
	for _, r := range rows {
		if len(r) > maxCols {
			maxCols = len(r)
		}
	}
	if maxCols == 0 {
		return ""
	}
	for i := range rows {
		for len(rows[i]) < maxCols {
			rows[i] = append(rows[i], "")
		}
	}

	var out strings.Builder
	out.WriteString("| ")
	out.WriteString(strings.Join(escapePipes(rows[0]), " | "))
	out.WriteString(" |\n| ")
	sep := make([]string, maxCols)
	for i := 0; i < maxCols; i++ {
		sep[i] = "---"
	}
	out.WriteString(strings.Join(sep, " | "))
	out.WriteString(" |\n")
	for i := 1; i < len(rows); i++ {
		out.WriteString("| ")
		out.WriteString(strings.Join(escapePipes(rows[i]), " | "))
		out.WriteString(" |\n")
	}
	return out.String()
}

func tableRowToCells(full string, r *documentaipb.Document_Page_Table_TableRow) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		if c == nil || c.Layout == nil || c.Layout.TextAnchor == nil {
			out = append(out, "")
			continue
		}
		out = append(out, strings.TrimSpace(textFromAnchor(full, c.Layout.TextAnchor)))
	}
	return out
}

func escapePipes(row []string) []string {
	out := make([]string, len(row))
	for i, s := range row {
		out[i] = strings.ReplaceAll(s, "|", "\\|")
	}
	return out
}

func processorName(project, location, processorID, version string) string {
	project = strings.TrimSpace(project)
	location = strings.TrimSpace(location)
	processorID = strings.TrimSpace(processorID)
	version = strings.TrimSpace(version)

	if project == "" || location == "" || processorID == "" {
		return ""
	}
	base := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if version != "" {
		return base + "/processorVersions/" + version
	}
	return base
}
