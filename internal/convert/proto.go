// Package convert maps domain values to and from the structpb messages of the API.
package convert

import (
	"fmt"
	"math"
	"time"

	"github.com/and161185/safe-folder/internal/api"
	"github.com/and161185/safe-folder/internal/errs"
	"github.com/and161185/safe-folder/internal/model"
	"google.golang.org/protobuf/types/known/structpb"
)

// --- field access ---

// Str returns the string field key, or "" if it is absent or not a string.
func Str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// Int returns the integral number field key. Absent fields yield 0.
func Int(s *structpb.Struct, key string) (int64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > 1<<53 {
		return 0, fmt.Errorf("field %s: not an integer: %w", key, errs.ErrInvalidArgument)
	}
	return int64(n.NumberValue), nil
}

// Time parses the RFC 3339 field key. Absent or empty fields yield nil.
func Time(s *structpb.Struct, key string) (*time.Time, error) {
	raw := Str(s, key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", key, errs.ErrInvalidArgument)
	}
	return &t, nil
}

// Strings returns the string list field key.
func Strings(s *structpb.Struct, key string) []string {
	vals := s.GetFields()[key].GetListValue().GetValues()
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.GetStringValue())
	}
	return out
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func list(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Message builds a {message} response.
func Message(msg string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{api.FieldMessage: structpb.NewStringValue(msg)}}
}

// --- tokens ---

// ToProtoTokens converts an issued pair.
func ToProtoTokens(t model.Tokens) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		api.FieldAccessToken:  t.AccessToken,
		api.FieldRefreshToken: t.RefreshToken,
		api.FieldTokenType:    t.TokenType,
		api.FieldExpiresAt:    ts(t.ExpiresAt),
	})
}

// FromProtoTokens converts a token response.
func FromProtoTokens(s *structpb.Struct) (model.Tokens, error) {
	t := model.Tokens{
		AccessToken:  Str(s, api.FieldAccessToken),
		RefreshToken: Str(s, api.FieldRefreshToken),
		TokenType:    Str(s, api.FieldTokenType),
	}
	exp, err := Time(s, api.FieldExpiresAt)
	if err != nil {
		return model.Tokens{}, err
	}
	if exp != nil {
		t.ExpiresAt = *exp
	}
	return t, nil
}

// --- registration ---

// ToProtoRegistration converts a confirmed account and its backup codes.
func ToProtoRegistration(u model.User, backupCodes []string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		api.FieldUserID:      u.ID,
		api.FieldUsername:    u.Username,
		api.FieldEmail:       u.Email,
		api.FieldCreatedAt:   ts(u.CreatedAt),
		api.FieldBackupCodes: list(backupCodes),
	})
}

// ToProtoBackupCodes converts a regenerated batch.
func ToProtoBackupCodes(codes []string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{api.FieldBackupCodes: list(codes)})
}

// --- files ---

func fileMap(f model.FileRecord) map[string]any {
	m := map[string]any{
		api.FieldFileID:     f.ID,
		api.FieldFilename:   f.OriginalName,
		api.FieldMimeType:   f.MimeType,
		api.FieldSize:       f.SizeBytes,
		api.FieldAlgorithm:  f.Algorithm,
		api.FieldUploadedAt: ts(f.UploadedAt),
	}
	if f.AccessedAt != nil {
		m[api.FieldAccessedAt] = ts(*f.AccessedAt)
	}
	return m
}

// ToProtoFile converts file metadata. Keys and nonces never leave the server.
func ToProtoFile(f model.FileRecord) (*structpb.Struct, error) {
	return structpb.NewStruct(fileMap(f))
}

// FromProtoFile converts file metadata.
func FromProtoFile(s *structpb.Struct) (model.FileRecord, error) {
	id, err := Int(s, api.FieldFileID)
	if err != nil {
		return model.FileRecord{}, err
	}
	size, err := Int(s, api.FieldSize)
	if err != nil {
		return model.FileRecord{}, err
	}
	uploaded, err := Time(s, api.FieldUploadedAt)
	if err != nil {
		return model.FileRecord{}, err
	}
	accessed, err := Time(s, api.FieldAccessedAt)
	if err != nil {
		return model.FileRecord{}, err
	}
	f := model.FileRecord{
		ID:           id,
		OriginalName: Str(s, api.FieldFilename),
		MimeType:     Str(s, api.FieldMimeType),
		SizeBytes:    size,
		Algorithm:    Str(s, api.FieldAlgorithm),
		AccessedAt:   accessed,
	}
	if uploaded != nil {
		f.UploadedAt = *uploaded
	}
	return f, nil
}

// ToProtoFilePage converts a listing page.
func ToProtoFilePage(p model.FilePage) (*structpb.Struct, error) {
	files := make([]any, 0, len(p.Files))
	for _, f := range p.Files {
		files = append(files, fileMap(f))
	}
	return structpb.NewStruct(map[string]any{api.FieldFiles: files, api.FieldTotal: p.Total})
}

// FromProtoFilePage converts a listing page.
func FromProtoFilePage(s *structpb.Struct) (model.FilePage, error) {
	total, err := Int(s, api.FieldTotal)
	if err != nil {
		return model.FilePage{}, err
	}
	page := model.FilePage{Total: int(total)}
	for i, v := range s.GetFields()[api.FieldFiles].GetListValue().GetValues() {
		f, err := FromProtoFile(v.GetStructValue())
		if err != nil {
			return model.FilePage{}, fmt.Errorf("files[%d]: %w", i, err)
		}
		page.Files = append(page.Files, f)
	}
	return page, nil
}

// ToProtoFileQuery converts listing parameters. Zero values are omitted.
func ToProtoFileQuery(q model.FileQuery) (*structpb.Struct, error) {
	m := map[string]any{}
	set := func(key, v string) {
		if v != "" {
			m[key] = v
		}
	}
	set(api.FieldSearch, q.Search)
	set(api.FieldMimeType, q.MimeType)
	set(api.FieldSortBy, string(q.SortBy))
	if q.From != nil {
		m[api.FieldFrom] = ts(*q.From)
	}
	if q.To != nil {
		m[api.FieldTo] = ts(*q.To)
	}
	if q.Asc {
		m[api.FieldOrder] = "asc"
	}
	if q.Offset > 0 {
		m[api.FieldOffset] = q.Offset
	}
	if q.Limit > 0 {
		m[api.FieldLimit] = q.Limit
	}
	return structpb.NewStruct(m)
}

// FromProtoFileQuery validates listing parameters. Unknown sort fields and orders are rejected.
func FromProtoFileQuery(s *structpb.Struct) (model.FileQuery, error) {
	q := model.FileQuery{
		Search:   Str(s, api.FieldSearch),
		MimeType: Str(s, api.FieldMimeType),
	}
	sortBy, ok := model.ParseSortField(Str(s, api.FieldSortBy))
	if !ok {
		return model.FileQuery{}, fmt.Errorf("unknown sort field: %w", errs.ErrInvalidArgument)
	}
	q.SortBy = sortBy
	var err error
	switch Str(s, api.FieldOrder) {
	case "", "desc":
	case "asc":
		q.Asc = true
	default:
		return model.FileQuery{}, fmt.Errorf("order must be asc or desc: %w", errs.ErrInvalidArgument)
	}
	if q.From, err = Time(s, api.FieldFrom); err != nil {
		return model.FileQuery{}, err
	}
	if q.To, err = Time(s, api.FieldTo); err != nil {
		return model.FileQuery{}, err
	}
	offset, err := Int(s, api.FieldOffset)
	if err != nil {
		return model.FileQuery{}, err
	}
	limit, err := Int(s, api.FieldLimit)
	if err != nil {
		return model.FileQuery{}, err
	}
	if offset < 0 || limit < 0 {
		return model.FileQuery{}, fmt.Errorf("offset and limit must not be negative: %w", errs.ErrInvalidArgument)
	}
	q.Offset, q.Limit = int(offset), int(limit)
	return q, nil
}
