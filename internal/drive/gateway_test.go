package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/drivebridge/drivebridge/internal/errs"
)

func apiError(code int, reason, message string) *googleapi.Error {
	return &googleapi.Error{
		Code:    code,
		Message: message,
		Errors:  []googleapi.ErrorItem{{Reason: reason, Message: message}},
	}
}

func TestClassify(t *testing.T) {
	g := NewGateway("key")

	tests := []struct {
		name      string
		err       error
		tokenAuth bool
		wantKind  errs.Kind
		wantToken bool
	}{
		{
			name:     "not_found",
			err:      apiError(404, "notFound", "File not found"),
			wantKind: errs.KindFileNotFound,
		},
		{
			name:     "anonymous_401",
			err:      apiError(401, "authError", "Invalid credentials"),
			wantKind: errs.KindAccessDenied,
		},
		{
			name:      "token_401_flags_token_auth",
			err:       apiError(401, "authError", "Invalid credentials"),
			tokenAuth: true,
			wantKind:  errs.KindAccessDenied,
			wantToken: true,
		},
		{
			name:     "plain_403",
			err:      apiError(403, "insufficientFilePermissions", "The user does not have permission"),
			wantKind: errs.KindAccessDenied,
		},
		{
			name:     "rate_limited_403",
			err:      apiError(403, "rateLimitExceeded", "Rate limit exceeded"),
			wantKind: errs.KindQuotaExceeded,
		},
		{
			name:     "download_quota_403",
			err:      apiError(403, "downloadQuotaExceeded", "Too many users have viewed or downloaded this file"),
			wantKind: errs.KindQuotaExceeded,
		},
		{
			name:     "quota_in_message_403",
			err:      apiError(403, "", "The download quota for this file has been exceeded"),
			wantKind: errs.KindQuotaExceeded,
		},
		{
			name:     "server_error",
			err:      apiError(500, "backendError", "Backend Error"),
			wantKind: errs.KindAPIError,
		},
		{
			name:     "transport_failure",
			err:      errors.New("dial tcp: connection refused"),
			wantKind: errs.KindNetworkError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.classify(tt.err, tt.tokenAuth)
			if errs.KindOf(got) != tt.wantKind {
				t.Errorf("kind = %s, want %s", errs.KindOf(got), tt.wantKind)
			}
			if errs.IsTokenAuth(got) != tt.wantToken {
				t.Errorf("TokenAuth = %v, want %v", errs.IsTokenAuth(got), tt.wantToken)
			}
		})
	}
}

func TestClassifyContextCancelPassesThrough(t *testing.T) {
	g := NewGateway("key")
	if got := g.classify(context.Canceled, false); !errors.Is(got, context.Canceled) {
		t.Errorf("classify(context.Canceled) = %v", got)
	}
}

func TestEnsureExtension(t *testing.T) {
	tests := []struct {
		name string
		mime string
		want string
	}{
		{"report", "application/pdf", "report.pdf"},
		{"report.pdf", "application/pdf", "report.pdf"},
		{"archive", "application/zip", "archive.zip"},
		{"notes", "text/plain", "notes.txt"},
		{"photo", "image/jpeg", "photo.jpg"},
		{"mystery", "application/x-unknown", "mystery"},
		{"", "application/pdf", ""},
		{"name.tar.gz", "application/x-gzip", "name.tar.gz"},
	}
	for _, tt := range tests {
		if got := EnsureExtension(tt.name, tt.mime); got != tt.want {
			t.Errorf("EnsureExtension(%q, %q) = %q, want %q", tt.name, tt.mime, got, tt.want)
		}
	}
}

func TestExportFormats(t *testing.T) {
	tests := []struct {
		native string
		mime   string
		ext    string
	}{
		{"application/vnd.google-apps.document", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", ".docx"},
		{"application/vnd.google-apps.spreadsheet", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx"},
		{"application/vnd.google-apps.presentation", "application/vnd.openxmlformats-officedocument.presentationml.presentation", ".pptx"},
		{"application/vnd.google-apps.drawing", "image/png", ".png"},
	}
	for _, tt := range tests {
		exp, ok := exportFormats[tt.native]
		if !ok {
			t.Errorf("no export format for %s", tt.native)
			continue
		}
		if exp.mime != tt.mime || exp.ext != tt.ext {
			t.Errorf("export for %s = {%s %s}, want {%s %s}", tt.native, exp.mime, exp.ext, tt.mime, tt.ext)
		}
		if ExtensionFor(exp.mime) != tt.ext {
			t.Errorf("ExtensionFor(%s) = %q, want %q", exp.mime, ExtensionFor(exp.mime), tt.ext)
		}
	}
}

// fakeDrive is a minimal Drive v3 fake for metadata, listing and
// content endpoints.
func fakeDrive(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGatewayForEndpoint("test-key", srv.URL), srv
}

func TestFileMetadata(t *testing.T) {
	g, _ := fakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("anonymous call missing API key, query = %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"f1","name":"report","mimeType":"application/pdf","size":"2048","modifiedTime":"2026-01-02T03:04:05Z"}`)
	})

	fd, err := g.FileMetadata(context.Background(), "f1", "")
	if err != nil {
		t.Fatalf("FileMetadata: %v", err)
	}
	if fd.ID != "f1" || fd.Name != "report" || fd.MimeType != "application/pdf" || fd.Size != 2048 {
		t.Errorf("descriptor = %+v", fd)
	}
	if fd.ModifiedTime.IsZero() {
		t.Error("ModifiedTime not parsed")
	}
	if fd.IsGoogleDoc() {
		t.Error("plain binary flagged as Google-native")
	}
}

func TestFileMetadataGoogleDoc(t *testing.T) {
	g, _ := fakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"d1","name":"Proposal","mimeType":"application/vnd.google-apps.document"}`)
	})

	fd, err := g.FileMetadata(context.Background(), "d1", "")
	if err != nil {
		t.Fatalf("FileMetadata: %v", err)
	}
	if !fd.IsGoogleDoc() {
		t.Fatal("Google doc not flagged for export")
	}
	if fd.ExportMimeType != "application/vnd.openxmlformats-officedocument.wordprocessingml.document" {
		t.Errorf("ExportMimeType = %s", fd.ExportMimeType)
	}
}

func TestFileMetadataNotFound(t *testing.T) {
	g, _ := fakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":404,"message":"File not found","errors":[{"reason":"notFound","message":"File not found"}]}}`)
	})

	_, err := g.FileMetadata(context.Background(), "missing", "")
	if errs.KindOf(err) != errs.KindFileNotFound {
		t.Errorf("error kind = %s, want FILE_NOT_FOUND", errs.KindOf(err))
	}
}

func TestFolderMetadataPagingAndAggregation(t *testing.T) {
	g, _ := fakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/files/folder1":
			fmt.Fprint(w, `{"id":"folder1","name":"My Folder","mimeType":"application/vnd.google-apps.folder"}`)
		case r.URL.Path == "/files" && r.URL.Query().Get("pageToken") == "":
			fmt.Fprint(w, `{"nextPageToken":"page2","files":[
				{"id":"a","name":"a.txt","mimeType":"text/plain","size":"100"},
				{"id":"sub","name":"nested","mimeType":"application/vnd.google-apps.folder"}]}`)
		case r.URL.Path == "/files" && r.URL.Query().Get("pageToken") == "page2":
			fmt.Fprint(w, `{"files":[{"id":"b","name":"b.bin","mimeType":"application/octet-stream","size":"250"}]}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	fd, err := g.FolderMetadata(context.Background(), "folder1", "")
	if err != nil {
		t.Fatalf("FolderMetadata: %v", err)
	}
	if fd.Name != "My Folder" {
		t.Errorf("Name = %q", fd.Name)
	}
	if len(fd.Files) != 2 {
		t.Fatalf("member count = %d, want 2 (subfolders excluded)", len(fd.Files))
	}
	if fd.Files[0].ID != "a" || fd.Files[1].ID != "b" {
		t.Errorf("listing order not preserved: %+v", fd.Files)
	}
	if fd.TotalSizeBytes != 350 {
		t.Errorf("TotalSizeBytes = %d, want 350", fd.TotalSizeBytes)
	}
}

func TestOpenContentStreamSkipsMetadataWhenKnown(t *testing.T) {
	var metadataCalls int
	g, _ := fakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("alt") == "media" {
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte("pdf-bytes"))
			return
		}
		metadataCalls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"f1","name":"report","mimeType":"application/pdf"}`)
	})

	known := &KnownMetadata{Name: "report", MimeType: "application/pdf", Size: 9}
	stream, err := g.OpenContentStream(context.Background(), "f1", known, "")
	if err != nil {
		t.Fatalf("OpenContentStream: %v", err)
	}
	defer stream.Body.Close()

	if metadataCalls != 0 {
		t.Errorf("metadata endpoint hit %d times despite known metadata", metadataCalls)
	}
	body, _ := io.ReadAll(stream.Body)
	if string(body) != "pdf-bytes" {
		t.Errorf("body = %q", body)
	}
	if stream.Descriptor.Name != "report.pdf" {
		t.Errorf("resolved name = %q, want extension appended", stream.Descriptor.Name)
	}
}

func TestOpenContentStreamExportsGoogleDoc(t *testing.T) {
	g, _ := fakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/files/d1/export" {
			if got := r.URL.Query().Get("mimeType"); got != "application/vnd.openxmlformats-officedocument.wordprocessingml.document" {
				t.Errorf("export mimeType = %q", got)
			}
			w.Write([]byte("docx-bytes"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"d1","name":"Proposal","mimeType":"application/vnd.google-apps.document"}`)
	})

	stream, err := g.OpenContentStream(context.Background(), "d1", nil, "")
	if err != nil {
		t.Fatalf("OpenContentStream: %v", err)
	}
	defer stream.Body.Close()

	body, _ := io.ReadAll(stream.Body)
	if string(body) != "docx-bytes" {
		t.Errorf("body = %q", body)
	}
	if stream.Descriptor.Name != "Proposal.docx" {
		t.Errorf("name = %q, want Proposal.docx", stream.Descriptor.Name)
	}
	if stream.Descriptor.MimeType != "application/vnd.openxmlformats-officedocument.wordprocessingml.document" {
		t.Errorf("MimeType = %q", stream.Descriptor.MimeType)
	}
}

func TestFolderMetadataRejectsNonFolder(t *testing.T) {
	g, _ := fakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"f1","name":"report","mimeType":"application/pdf"}`)
	})

	_, err := g.FolderMetadata(context.Background(), "f1", "")
	if errs.KindOf(err) != errs.KindFileNotFound {
		t.Errorf("error kind = %s, want FILE_NOT_FOUND", errs.KindOf(err))
	}
}

// Sanity check that the fake error payload round-trips through the
// client library as a *googleapi.Error.
func TestUpstreamErrorDecoding(t *testing.T) {
	g, _ := fakeDrive(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    403,
				"message": "Rate limit exceeded",
				"errors":  []map[string]any{{"reason": "userRateLimitExceeded", "message": "Rate limit exceeded"}},
			},
		})
	})

	_, err := g.FileMetadata(context.Background(), "f1", "")
	if errs.KindOf(err) != errs.KindQuotaExceeded {
		t.Errorf("error kind = %s, want QUOTA_EXCEEDED", errs.KindOf(err))
	}
}
