package upload

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/mediafire/mediafire-go/filehash"
	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mfhttp"
	"github.com/mediafire/mediafire-go/mfurl"
)

// CheckResult is upload/check's response (spec §6).
type CheckResult struct {
	FileExists          bool
	HashDifferent       bool
	DuplicateQuickkey   string
	StorageLimitExceeded bool
	HashExists          bool
	Resumable           *ResumableInfo
}

// ResumableInfo is the resumable-upload guidance nested in CheckResult.
type ResumableInfo struct {
	NumberOfUnits int
	Words         []uint16
}

type checkResponseWire struct {
	FileExists          string `json:"file_exists"`
	HashDifferent       string `json:"hash_different"`
	DuplicateQuickkey   string `json:"duplicate_quickkey"`
	StorageLimitExceeded string `json:"storage_limit_exceeded"`
	HashExists          string `json:"hash_exists"`
	Resumable           *struct {
		NumberOfUnits int      `json:"number_of_units"`
		Words         []uint16 `json:"words"`
	} `json:"resumable"`
}

// InstantResult is upload/instant's response.
type InstantResult struct {
	Quickkey string
	Filename string
}

// UploadKeyResult is upload/simple or upload/resumable's response.
type UploadKeyResult struct {
	UploadKey string
	Result    int
}

type uploadKeyWire struct {
	Response struct {
		Doupload struct {
			Key    string `json:"key"`
			Result string `json:"result"`
		} `json:"doupload"`
		Result string `json:"result"`
	} `json:"response"`
}

// PollResult is upload/poll_upload's response.
type PollResult struct {
	Result    int
	FileError int
	Status    int
	Quickkey  string
}

type pollResponseWire struct {
	Response struct {
		Doupload struct {
			Result    string `json:"result"`
			FileError string `json:"fileerror"`
			Status    string `json:"status"`
			Quickkey  string `json:"quickkey"`
		} `json:"doupload"`
	} `json:"response"`
}

// APIClient performs the wire calls spec §6 describes. HTTPAPIClient
// backs it with mfhttp; tests substitute a fake.
type APIClient interface {
	Check(req *Request, hash filehash.Result) (*CheckResult, error)
	Instant(req *Request, hash filehash.Result, token string) (*InstantResult, error)
	Simple(req *Request, hash filehash.Result, token string, body []byte) (*UploadKeyResult, error)
	Resumable(req *Request, wholeHash filehash.Digest, token string, chunkIdx int, chunkHash filehash.Digest, chunk []byte) (*UploadKeyResult, error)
	Poll(uploadKey string) (*PollResult, error)
	GetActionToken() (token string, lifetime time.Duration, err error)
}

// HTTPAPIClient is the production APIClient, built on one mfhttp.Config
// and API base URL (spec §6: "POST http(s)://host/api/...").
type HTTPAPIClient struct {
	HTTP    *mfhttp.Config
	BaseURL string // e.g. "https://www.mediafire.com"
	Session string // session token for check/instant/poll/get_action_token
}

func (c *HTTPAPIClient) url(path string, query url.Values) (*mfurl.URL, error) {
	full := fmt.Sprintf("%s%s", c.BaseURL, path)
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return mfurl.Parse(full)
}

func onDuplicateParam(d OnDuplicate) string {
	switch d {
	case Replace:
		return "replace"
	case AutoRename:
		return "autorename"
	default:
		return "keep"
	}
}

// Check implements APIClient.Check.
func (c *HTTPAPIClient) Check(req *Request, hash filehash.Result) (*CheckResult, error) {
	q := url.Values{
		"filename":        {req.Filename},
		"hash":            {hash.WholeFile.String()},
		"size":            {strconv.FormatInt(req.Size, 10)},
		"session_token":   {c.Session},
		"response_format": {"json"},
	}
	if req.Target.FolderKey != "" {
		q.Set("target_parent_folderkey", req.Target.FolderKey)
	} else {
		q.Set("path", req.Target.Path)
	}
	if len(hash.Chunks) > 1 {
		q.Set("resumable", "yes")
	}
	u, err := c.url("/api/upload/check.php", q)
	if err != nil {
		return nil, err
	}
	res, err := runWireRequest(c.HTTP, u, "GET", nil, nil)
	if err != nil {
		return nil, err
	}
	var wire checkResponseWire
	if err := json.Unmarshal(res.body, &wire); err != nil {
		return nil, mferrors.Wrap(err, mferrors.CodeUploadResponseError, "decoding upload/check response")
	}
	out := &CheckResult{
		FileExists:           wire.FileExists == "yes",
		HashDifferent:        wire.HashDifferent == "yes",
		DuplicateQuickkey:    wire.DuplicateQuickkey,
		StorageLimitExceeded: wire.StorageLimitExceeded == "yes",
		HashExists:           wire.HashExists == "yes",
	}
	if wire.Resumable != nil {
		out.Resumable = &ResumableInfo{NumberOfUnits: wire.Resumable.NumberOfUnits, Words: wire.Resumable.Words}
	}
	return out, nil
}

// Instant implements APIClient.Instant.
func (c *HTTPAPIClient) Instant(req *Request, hash filehash.Result, token string) (*InstantResult, error) {
	q := url.Values{
		"filename":            {req.Filename},
		"hash":                {hash.WholeFile.String()},
		"size":                {strconv.FormatInt(req.Size, 10)},
		"action_on_duplicate": {onDuplicateParam(req.OnDuplicate)},
		"session_token":       {token},
		"response_format":     {"json"},
	}
	if req.Target.FolderKey != "" {
		q.Set("target", req.Target.FolderKey)
	} else {
		q.Set("target", req.Target.Path)
	}
	u, err := c.url("/api/upload/instant.php", q)
	if err != nil {
		return nil, err
	}
	res, err := runWireRequest(c.HTTP, u, "GET", nil, nil)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Quickkey string `json:"quickkey"`
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(res.body, &wire); err != nil {
		return nil, mferrors.Wrap(err, mferrors.CodeUploadResponseError, "decoding upload/instant response")
	}
	return &InstantResult{Quickkey: wire.Quickkey, Filename: wire.Filename}, nil
}

// Simple implements APIClient.Simple (spec §6 upload/simple.php).
func (c *HTTPAPIClient) Simple(req *Request, hash filehash.Result, token string, body []byte) (*UploadKeyResult, error) {
	q := c.uploadQuery(req, token)
	u, err := c.url("/api/upload/simple.php", q)
	if err != nil {
		return nil, err
	}
	headers := []mfhttp.HeaderField{
		{Name: "Content-Type", Value: "application/octet-stream"},
		{Name: "x-filename", Value: req.Filename},
		{Name: "x-filesize", Value: strconv.FormatInt(req.Size, 10)},
	}
	return c.postUploadKey(u, headers, body)
}

// Resumable implements APIClient.Resumable (spec §6 upload/resumable.php).
func (c *HTTPAPIClient) Resumable(req *Request, wholeHash filehash.Digest, token string, chunkIdx int, chunkHash filehash.Digest, chunk []byte) (*UploadKeyResult, error) {
	q := c.uploadQuery(req, token)
	u, err := c.url("/api/upload/resumable.php", q)
	if err != nil {
		return nil, err
	}
	headers := []mfhttp.HeaderField{
		{Name: "Content-Type", Value: "application/octet-stream"},
		{Name: "x-filename", Value: req.Filename},
		{Name: "x-filesize", Value: strconv.FormatInt(req.Size, 10)},
		{Name: "x-filehash", Value: wholeHash.String()},
		{Name: "x-unit-hash", Value: chunkHash.String()},
		{Name: "x-unit-id", Value: strconv.Itoa(chunkIdx)},
		{Name: "x-unit-size", Value: strconv.Itoa(len(chunk))},
	}
	return c.postUploadKey(u, headers, chunk)
}

func (c *HTTPAPIClient) uploadQuery(req *Request, token string) url.Values {
	q := url.Values{
		"session_token":   {token},
		"response_format": {"json"},
		"mtime":           {time.Now().UTC().Format("2006-01-02T15:04:05.000Z")},
	}
	if req.Target.FolderKey != "" {
		q.Set("folder_key", req.Target.FolderKey)
	} else {
		q.Set("path", req.Target.Path)
	}
	if req.OnDuplicate == Replace {
		q.Set("action_on_duplicate", "replace")
	}
	return q
}

func (c *HTTPAPIClient) postUploadKey(u *mfurl.URL, headers []mfhttp.HeaderField, body []byte) (*UploadKeyResult, error) {
	res, err := runWireRequest(c.HTTP, u, "POST", headers, &mfhttp.Body{Buffer: mfhttp.NewSharedBuffer(body)})
	if err != nil {
		return nil, err
	}
	var wire uploadKeyWire
	if err := json.Unmarshal(res.body, &wire); err != nil {
		return nil, mferrors.Wrap(err, mferrors.CodeUploadResponseError, "decoding upload response")
	}
	if wire.Response.Doupload.Key == "" {
		return nil, mferrors.New(mferrors.CodeUploadResponseError, "upload response missing upload_key")
	}
	result, _ := strconv.Atoi(wire.Response.Doupload.Result)
	if result < 0 {
		return nil, mferrors.New(mferrors.CodeUploadResponseError, "upload rejected").WithDetail(int64(result))
	}
	return &UploadKeyResult{UploadKey: wire.Response.Doupload.Key, Result: result}, nil
}

// Poll implements APIClient.Poll (spec §6 upload/poll_upload.php).
func (c *HTTPAPIClient) Poll(uploadKey string) (*PollResult, error) {
	q := url.Values{
		"key":             {uploadKey},
		"session_token":   {c.Session},
		"response_format": {"json"},
	}
	u, err := c.url("/api/upload/poll_upload.php", q)
	if err != nil {
		return nil, err
	}
	res, err := runWireRequest(c.HTTP, u, "GET", nil, nil)
	if err != nil {
		return nil, err
	}
	var wire pollResponseWire
	if err := json.Unmarshal(res.body, &wire); err != nil {
		return nil, mferrors.Wrap(err, mferrors.CodeUploadResponseError, "decoding poll_upload response")
	}
	result, _ := strconv.Atoi(wire.Response.Doupload.Result)
	fileErr, _ := strconv.Atoi(wire.Response.Doupload.FileError)
	status, _ := strconv.Atoi(wire.Response.Doupload.Status)
	return &PollResult{Result: result, FileError: fileErr, Status: status, Quickkey: wire.Response.Doupload.Quickkey}, nil
}

// GetActionToken implements APIClient.GetActionToken (spec §6
// user/get_action_token.php). The server's documented token lifetime is
// 24h; the manager caches for 3/4 of that (18h), per spec §4.6.
func (c *HTTPAPIClient) GetActionToken() (string, time.Duration, error) {
	q := url.Values{
		"type":            {"upload"},
		"session_token":   {c.Session},
		"response_format": {"json"},
	}
	u, err := c.url("/api/user/get_action_token.php", q)
	if err != nil {
		return "", 0, err
	}
	res, err := runWireRequest(c.HTTP, u, "GET", nil, nil)
	if err != nil {
		return "", 0, err
	}
	var wire struct {
		ActionToken string `json:"action_token"`
	}
	if err := json.Unmarshal(res.body, &wire); err != nil {
		return "", 0, mferrors.Wrap(err, mferrors.CodeUploadResponseError, "decoding get_action_token response")
	}
	if wire.ActionToken == "" {
		return "", 0, mferrors.New(mferrors.CodeUploadResponseError, "get_action_token returned no token")
	}
	return wire.ActionToken, 18 * time.Hour, nil
}
