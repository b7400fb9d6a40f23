// Package drive talks to the Google Drive v3 API: metadata lookup,
// folder listing and content streaming, with upstream failures mapped
// onto the shared error taxonomy.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/oauth2"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/drivebridge/drivebridge/internal/driveurl"
	"github.com/drivebridge/drivebridge/internal/errs"
	"github.com/drivebridge/drivebridge/internal/metrics"
)

const folderMimeType = "application/vnd.google-apps.folder"

// metadataFields is requested on every Files.Get.
var metadataFields = []googleapi.Field{"id,name,mimeType,size,modifiedTime"}

// FileDescriptor describes one Drive file.
type FileDescriptor struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64 // 0 when upstream does not report one
	ModifiedTime time.Time

	// ExportMimeType is set for Google-native documents that must go
	// through the export path; empty for binary content.
	ExportMimeType string
}

// IsGoogleDoc reports whether the file is a Google-native document.
func (d FileDescriptor) IsGoogleDoc() bool { return d.ExportMimeType != "" }

// FolderDescriptor describes a folder and its full member listing.
type FolderDescriptor struct {
	ID             string
	Name           string
	Files          []FileDescriptor
	TotalSizeBytes int64
}

// KnownMetadata carries caller-supplied metadata so OpenContentStream
// can skip the metadata round-trip.
type KnownMetadata struct {
	Name     string
	MimeType string
	Size     int64
}

// Stream is an open content stream plus the metadata it was resolved
// against. The caller owns Body and must close it; abandoning the
// stream early is a normal cancellation, not an error.
type Stream struct {
	Body       io.ReadCloser
	Descriptor FileDescriptor
}

// Gateway is the Drive API client. An empty token on any call selects
// anonymous access through the shared API key.
type Gateway struct {
	apiKey string

	// endpoint overrides the API base URL; tests point it at a fake.
	endpoint string
}

// NewGateway creates a gateway using the given shared API key for
// anonymous access.
func NewGateway(apiKey string) *Gateway {
	return &Gateway{apiKey: apiKey}
}

// NewGatewayForEndpoint is NewGateway with the API base URL overridden.
func NewGatewayForEndpoint(apiKey, endpoint string) *Gateway {
	return &Gateway{apiKey: apiKey, endpoint: endpoint}
}

// service builds a per-call Drive service bound to either the user
// token or the shared API key.
func (g *Gateway) service(ctx context.Context, token string) (*drive.Service, error) {
	var opts []option.ClientOption
	if token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		opts = append(opts, option.WithTokenSource(src))
	} else {
		opts = append(opts, option.WithAPIKey(g.apiKey))
	}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.KindAPIError, err)
	}
	return srv, nil
}

// FileMetadata fetches the descriptor for a single file.
func (g *Gateway) FileMetadata(ctx context.Context, id, token string) (*FileDescriptor, error) {
	srv, err := g.service(ctx, token)
	if err != nil {
		return nil, err
	}
	f, err := srv.Files.Get(id).Fields(metadataFields...).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return nil, g.classify(err, token != "")
	}
	return descriptorFromFile(f), nil
}

// FolderMetadata fetches the folder descriptor including its complete
// member listing. Paging is followed to the end; TotalSizeBytes is the
// sum of member sizes.
func (g *Gateway) FolderMetadata(ctx context.Context, id, token string) (*FolderDescriptor, error) {
	srv, err := g.service(ctx, token)
	if err != nil {
		return nil, err
	}

	folder, err := srv.Files.Get(id).Fields("id", "name", "mimeType").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return nil, g.classify(err, token != "")
	}
	if folder.MimeType != folderMimeType {
		return nil, errs.Newf(errs.KindFileNotFound, "%s is not a folder", id)
	}

	desc := &FolderDescriptor{ID: folder.Id, Name: folder.Name}
	query := fmt.Sprintf("'%s' in parents and trashed = false", id)
	pageToken := ""
	for {
		call := srv.Files.List().Q(query).
			Fields("nextPageToken, files(id,name,mimeType,size,modifiedTime)").
			PageSize(1000).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			return nil, g.classify(err, token != "")
		}
		for _, f := range page.Files {
			if f.MimeType == folderMimeType {
				continue
			}
			fd := descriptorFromFile(f)
			desc.Files = append(desc.Files, *fd)
			desc.TotalSizeBytes += fd.Size
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return desc, nil
}

// FetchMetadata dispatches on the reference kind. Exactly one of the
// returned descriptors is non-nil on success.
func (g *Gateway) FetchMetadata(ctx context.Context, ref *driveurl.Ref, token string) (*FileDescriptor, *FolderDescriptor, error) {
	if ref.Kind == driveurl.KindFolder {
		fd, err := g.FolderMetadata(ctx, ref.ID, token)
		return nil, fd, err
	}
	fd, err := g.FileMetadata(ctx, ref.ID, token)
	return fd, nil, err
}

// OpenContentStream opens the file's content for reading. Known
// metadata skips the metadata round-trip. Google-native documents are
// exported to their concrete binary format.
func (g *Gateway) OpenContentStream(ctx context.Context, id string, known *KnownMetadata, token string) (*Stream, error) {
	var desc *FileDescriptor
	if known != nil && known.MimeType != "" {
		desc = &FileDescriptor{ID: id, Name: known.Name, MimeType: known.MimeType, Size: known.Size}
		if exp, ok := exportFormats[known.MimeType]; ok {
			desc.ExportMimeType = exp.mime
		}
	} else {
		var err error
		desc, err = g.FileMetadata(ctx, id, token)
		if err != nil {
			return nil, err
		}
	}

	srv, err := g.service(ctx, token)
	if err != nil {
		return nil, err
	}

	if desc.IsGoogleDoc() {
		resp, err := srv.Files.Export(id, desc.ExportMimeType).Context(ctx).Download()
		if err != nil {
			return nil, g.classify(err, token != "")
		}
		out := *desc
		out.MimeType = desc.ExportMimeType
		out.Name = EnsureExtension(desc.Name, desc.ExportMimeType)
		if resp.ContentLength > 0 {
			out.Size = resp.ContentLength
		}
		return &Stream{Body: resp.Body, Descriptor: out}, nil
	}

	resp, err := srv.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, g.classify(err, token != "")
	}
	out := *desc
	out.Name = EnsureExtension(desc.Name, desc.MimeType)
	if out.Size == 0 && resp.ContentLength > 0 {
		out.Size = resp.ContentLength
	}
	return &Stream{Body: resp.Body, Descriptor: out}, nil
}

// quotaReasons are the 403 reason codes that mean rate limiting rather
// than an access decision.
var quotaReasons = map[string]bool{
	"rateLimitExceeded":        true,
	"userRateLimitExceeded":    true,
	"dailyLimitExceeded":       true,
	"quotaExceeded":            true,
	"downloadQuotaExceeded":    true,
	"sharingRateLimitExceeded": true,
}

// classify maps an upstream error onto the taxonomy. tokenAuth records
// whether the failed call presented a user token, so an authenticated
// 401 can trigger re-login instead of a plain access error.
func (g *Gateway) classify(err error, tokenAuth bool) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		kind := errs.KindAPIError
		switch gerr.Code {
		case 404:
			kind = errs.KindFileNotFound
		case 401:
			kind = errs.KindAccessDenied
		case 403:
			kind = errs.KindAccessDenied
			for _, item := range gerr.Errors {
				if quotaReasons[item.Reason] {
					kind = errs.KindQuotaExceeded
					break
				}
			}
			if kind != errs.KindQuotaExceeded && strings.Contains(strings.ToLower(gerr.Message), "quota") {
				kind = errs.KindQuotaExceeded
			}
		}
		metrics.RecordUpstreamError(kind.Code())
		e := errs.Wrap(kind, err)
		if tokenAuth && gerr.Code == 401 {
			e.TokenAuth = true
		}
		return e
	}

	metrics.RecordUpstreamError(errs.KindNetworkError.Code())
	return errs.Wrap(errs.KindNetworkError, err)
}
