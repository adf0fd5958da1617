// Package api names the safefolder.v1.SafeFolder gRPC service: methods, metadata keys and the
// field keys of its structpb messages. It is shared by the server and the client.
package api

import "google.golang.org/grpc"

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "safefolder.v1.SafeFolder"

// Method names.
const (
	InitiateRegistration  = "InitiateRegistration"
	ConfirmRegistration   = "ConfirmRegistration"
	RequestLoginCode      = "RequestLoginCode"
	VerifyLoginCode       = "VerifyLoginCode"
	VerifyBackupCode      = "VerifyBackupCode"
	RefreshToken          = "RefreshToken"
	Logout                = "Logout"
	RegenerateBackupCodes = "RegenerateBackupCodes"
	ListFiles             = "ListFiles"
	DeleteFile            = "DeleteFile"
	UploadFile            = "UploadFile"
	DownloadFile          = "DownloadFile"
)

// FullMethod returns "/safefolder.v1.SafeFolder/<name>".
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

var protected = map[string]bool{
	FullMethod(RegenerateBackupCodes): true,
	FullMethod(ListFiles):             true,
	FullMethod(DeleteFile):            true,
	FullMethod(UploadFile):            true,
	FullMethod(DownloadFile):          true,
}

// Protected reports whether fullMethod requires a bearer access token.
func Protected(fullMethod string) bool { return protected[fullMethod] }

// Stream descriptors used by clients.
var (
	UploadStream   = grpc.StreamDesc{StreamName: UploadFile, ClientStreams: true}
	DownloadStream = grpc.StreamDesc{StreamName: DownloadFile, ServerStreams: true}
)

// Metadata keys. Keys ending in -bin carry raw bytes, so file names may be any UTF-8.
const (
	MDAuthorization = "authorization"
	MDFilename      = "x-filename-bin"
	MDMimeType      = "x-mime-type"
)

// Field keys of request and response structs.
const (
	FieldEmail        = "email"
	FieldUsername     = "username"
	FieldPassword     = "password"
	FieldCode         = "code"
	FieldBackupCode   = "backup_code"
	FieldBackupCodes  = "backup_codes"
	FieldMessage      = "message"
	FieldUserID       = "user_id"
	FieldCreatedAt    = "created_at"
	FieldAccessToken  = "access_token"
	FieldRefreshToken = "refresh_token"
	FieldTokenType    = "token_type"
	FieldExpiresAt    = "expires_at"

	FieldFileID     = "file_id"
	FieldFilename   = "original_filename"
	FieldMimeType   = "mime_type"
	FieldSize       = "size_bytes"
	FieldAlgorithm  = "algorithm"
	FieldUploadedAt = "uploaded_at"
	FieldAccessedAt = "accessed_at"
	FieldFiles      = "files"
	FieldTotal      = "total"

	FieldSearch = "search"
	FieldFrom   = "from"
	FieldTo     = "to"
	FieldSortBy = "sort_by"
	FieldOrder  = "order" // "asc" or "desc"
	FieldOffset = "offset"
	FieldLimit  = "limit"
)
