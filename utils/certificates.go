package utils

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// CertificateRequest is the payload handed to the renderer: who completed
// what, the template to composite onto and the font to use.
type CertificateRequest struct {
	CertificateID string `json:"certificate_id"`
	LearnerName   string `json:"learner_name"`
	CourseTitle   string `json:"course_title"`
	CompletedAt   string `json:"completed_at"`
	TemplateURL   string `json:"template_url"`
	LayoutJSON    string `json:"layout"`
	FontFamily    string `json:"font_family"`
	FontSize      int    `json:"font_size"`
}

// IssuedCertificate is the renderer's answer: where the composited image
// and its stored copy live.
type IssuedCertificate struct {
	CertificateID  string    `json:"certificate_id"`
	CertificateURL string    `json:"certificate_url"`
	StorageURL     string    `json:"storage_url"`
	IssuedAt       time.Time `json:"issued_at"`
}

// CertificateIssuer renders and stores a certificate for a completed
// enrollment. The progress engine only decides when to call it; rendering
// and upload live behind this boundary.
type CertificateIssuer interface {
	Issue(req *CertificateRequest) (*IssuedCertificate, error)
}

// RenderServiceIssuer calls the external compositing/upload service over HTTP.
type RenderServiceIssuer struct {
	client  *resty.Client
	baseURL string
}

func NewRenderServiceIssuer(baseURL string) *RenderServiceIssuer {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(2)
	return &RenderServiceIssuer{client: client, baseURL: baseURL}
}

func (r *RenderServiceIssuer) Issue(req *CertificateRequest) (*IssuedCertificate, error) {
	if req.CertificateID == "" {
		req.CertificateID = uuid.NewString()
	}

	var issued IssuedCertificate
	resp, err := r.client.R().
		SetBody(req).
		SetResult(&issued).
		Post(r.baseURL + "/render")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("certificate renderer returned %d", resp.StatusCode())
	}

	if issued.CertificateID == "" {
		issued.CertificateID = req.CertificateID
	}
	if issued.IssuedAt.IsZero() {
		issued.IssuedAt = time.Now()
	}
	return &issued, nil
}
