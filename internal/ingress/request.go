package ingress

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	triageErrors "github.com/harunnryd/medtriage/internal/errors"
	"github.com/harunnryd/medtriage/internal/orchestrator"
	"github.com/harunnryd/medtriage/internal/triage"

	"github.com/oklog/ulid/v2"
)

const (
	MaxMessageLength = 2000
	MaxHistoryLength = 10000
	DefaultK         = 5
	MinK             = 1
	MaxK             = 10
	DefaultImageMIME = "image/jpeg"
)

// AskRequest is the normalized form of one triage question, whichever
// surface it came from.
type AskRequest struct {
	ID           string
	Message      string
	History      []triage.ChatMessage
	Images       []triage.Image
	K            int
	Mode         orchestrator.Mode
	UseFunctions bool
	ReceivedAt   time.Time
}

// NewRequestID returns a fresh ULID.
func NewRequestID() string {
	return ulid.Make().String()
}

// NewAskRequest fills in the defaults for a message.
func NewAskRequest(message string) *AskRequest {
	return &AskRequest{
		ID:           NewRequestID(),
		Message:      message,
		History:      []triage.ChatMessage{},
		K:            DefaultK,
		Mode:         orchestrator.ModeAPI,
		UseFunctions: true,
		ReceivedAt:   time.Now(),
	}
}

func (r *AskRequest) Validate() error {
	if n := utf8.RuneCountInString(r.Message); strings.TrimSpace(r.Message) == "" || n > MaxMessageLength {
		return triageErrors.Validation(fmt.Sprintf("message must be between 1 and %d characters", MaxMessageLength))
	}
	if r.K < MinK || r.K > MaxK {
		return triageErrors.Validation(fmt.Sprintf("k must be between %d and %d", MinK, MaxK))
	}
	if !r.Mode.Valid() {
		return triageErrors.Validation(fmt.Sprintf("mode must be %q or %q", orchestrator.ModeAPI, orchestrator.ModeLocal))
	}
	return nil
}

func (r *AskRequest) orchestratorRequest() orchestrator.Request {
	return orchestrator.Request{
		Message:      r.Message,
		History:      r.History,
		Images:       r.Images,
		K:            r.K,
		Mode:         r.Mode,
		UseFunctions: r.UseFunctions,
	}
}

// ParseHistory decodes the JSON history field. Each item needs a known role
// and string content.
func ParseHistory(raw string) ([]triage.ChatMessage, error) {
	if utf8.RuneCountInString(raw) > MaxHistoryLength {
		return nil, triageErrors.Validation(fmt.Sprintf("history must be at most %d characters", MaxHistoryLength))
	}
	if strings.TrimSpace(raw) == "" {
		return []triage.ChatMessage{}, nil
	}

	var items []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, triageErrors.InvalidHistory("history must be a JSON array of messages")
	}

	history := make([]triage.ChatMessage, 0, len(items))
	for i, item := range items {
		role, ok := item["role"].(string)
		if !ok || !triage.Role(role).Valid() {
			return nil, triageErrors.InvalidHistory(fmt.Sprintf("history item %d has an invalid role", i))
		}
		content, ok := item["content"].(string)
		if !ok {
			return nil, triageErrors.InvalidHistory(fmt.Sprintf("history item %d must have string content", i))
		}
		history = append(history, triage.ChatMessage{Role: triage.Role(role), Content: content})
	}
	return history, nil
}

// EncodeImage base64 encodes raw image bytes.
func EncodeImage(data []byte, mime string) triage.Image {
	if strings.TrimSpace(mime) == "" {
		mime = DefaultImageMIME
	}
	return triage.Image{Data: base64.StdEncoding.EncodeToString(data), MIME: mime}
}

// ParseAskForm reads a multipart or urlencoded /ask form.
func ParseAskForm(r *http.Request, maxMemory int64) (*AskRequest, error) {
	if isMultipart(r) {
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			return nil, formError(err)
		}
		defer r.MultipartForm.RemoveAll()
	} else if err := r.ParseForm(); err != nil {
		return nil, formError(err)
	}

	req := NewAskRequest(r.PostFormValue("message"))

	history, err := ParseHistory(r.PostFormValue("history"))
	if err != nil {
		return nil, err
	}
	req.History = history

	if raw := strings.TrimSpace(r.PostFormValue("k")); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil {
			return nil, triageErrors.Validation("k must be an integer")
		}
		req.K = k
	}
	if raw := strings.TrimSpace(r.PostFormValue("mode")); raw != "" {
		req.Mode = orchestrator.Mode(strings.ToLower(raw))
	}
	if raw := strings.TrimSpace(r.PostFormValue("use_functions")); raw != "" {
		v, err := parseFormBool(raw)
		if err != nil {
			return nil, err
		}
		req.UseFunctions = v
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	if r.MultipartForm != nil {
		images, err := readImages(r.MultipartForm.File["images"])
		if err != nil {
			return nil, err
		}
		req.Images = images
	}
	return req, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}

func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return triageErrors.Validation(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	}
	return triageErrors.Validation("request body must be a form")
}

func parseFormBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "1", "true", "t", "on", "yes", "y":
		return true, nil
	case "0", "false", "f", "off", "no", "n":
		return false, nil
	default:
		return false, triageErrors.Validation("use_functions must be a boolean")
	}
}

func readImages(files []*multipart.FileHeader) ([]triage.Image, error) {
	images := make([]triage.Image, 0, len(files))
	for _, fh := range files {
		if fh.Filename == "" && fh.Size == 0 {
			continue
		}
		img, err := readImage(fh)
		if err != nil {
			return nil, triageErrors.WrapWithCategory(err, fmt.Sprintf("could not read image %q", fh.Filename), triageErrors.ErrImageProcessing)
		}
		images = append(images, img)
	}
	return images, nil
}

func readImage(fh *multipart.FileHeader) (triage.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return triage.Image{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return triage.Image{}, err
	}
	if len(data) == 0 {
		return triage.Image{}, errors.New("image is empty")
	}
	return EncodeImage(data, fh.Header.Get("Content-Type")), nil
}
