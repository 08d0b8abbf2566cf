package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"smartparking/internal/models"
)

const defaultLotsRadiusKM = 20

// ParkingClient talks to the parking backend REST API.
type ParkingClient struct {
	base *BaseClient
}

// NewParkingClient returns client.
func NewParkingClient(baseURL string, httpClient HTTPDoer, tokens TokenSource) *ParkingClient {
	return &ParkingClient{base: NewBaseClient(baseURL, httpClient, tokens)}
}

// StartSessionRequest is the POST /sessions payload.
type StartSessionRequest struct {
	LotID    string `json:"lot_id"`
	Plate    string `json:"plate,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
}

type loginRequest struct {
	Phone string `json:"phone"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type paymentLinkResponse struct {
	PaymentURL string `json:"payment_url"`
}

type uploadResponse struct {
	FileURL string `json:"file_url"`
}

// Login exchanges a phone number for a bearer token.
func (c *ParkingClient) Login(ctx context.Context, phone string) (string, error) {
	var resp loginResponse
	if err := c.call(ctx, http.MethodPost, "/auth/login", loginRequest{Phone: phone}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("clients: login returned empty token")
	}
	return resp.Token, nil
}

// Lots lists parking lots, optionally near a position.
func (c *ParkingClient) Lots(ctx context.Context, near *models.Coords) ([]models.Lot, error) {
	path := "/lots"
	if near != nil && near.Lat != 0 && near.Lng != 0 {
		q := url.Values{}
		q.Set("lat", strconv.FormatFloat(near.Lat, 'f', -1, 64))
		q.Set("lng", strconv.FormatFloat(near.Lng, 'f', -1, 64))
		q.Set("radius_km", strconv.Itoa(defaultLotsRadiusKM))
		path += "?" + q.Encode()
	}
	var lots []models.Lot
	if err := c.call(ctx, http.MethodGet, path, nil, &lots); err != nil {
		return nil, err
	}
	return lots, nil
}

// StartSession opens a parking session.
func (c *ParkingClient) StartSession(ctx context.Context, req StartSessionRequest) (*models.Session, error) {
	var session models.Session
	if err := c.call(ctx, http.MethodPost, "/sessions", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ActiveSession returns the active session for a plate or nil when there is none.
func (c *ParkingClient) ActiveSession(ctx context.Context, plate string) (*models.Session, error) {
	var session *models.Session
	path := "/sessions/active?plate=" + url.QueryEscape(plate)
	if err := c.call(ctx, http.MethodGet, path, nil, &session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession fetches the authoritative session record.
func (c *ParkingClient) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := c.call(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ExitSession ends the session and returns the updated record.
func (c *ParkingClient) ExitSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := c.call(ctx, http.MethodPost, "/sessions/"+url.PathEscape(id)+"/exit", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// PaymentURL requests a hosted checkout URL for the session.
func (c *ParkingClient) PaymentURL(ctx context.Context, id string) (string, error) {
	var resp paymentLinkResponse
	if err := c.call(ctx, http.MethodPost, "/sessions/"+url.PathEscape(id)+"/pay", nil, &resp); err != nil {
		return "", err
	}
	if resp.PaymentURL == "" {
		return "", errors.New("clients: payment link missing payment_url")
	}
	return resp.PaymentURL, nil
}

// History returns the most recent sessions of the current user.
func (c *ParkingClient) History(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	var sessions []models.Session
	if err := c.call(ctx, http.MethodGet, "/sessions/history?limit="+strconv.Itoa(limit), nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// UploadPhoto uploads a plate photo as multipart field "file" and returns its public URL.
func (c *ParkingClient) UploadPhoto(ctx context.Context, filename string, photo io.Reader) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, photo); err != nil {
		return "", fmt.Errorf("clients: read photo: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	status, body, err := c.base.Do(ctx, http.MethodPost, "/upload", buf.Bytes(), map[string]string{
		"Content-Type": form.FormDataContentType(),
	})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", newAPIError(status, body)
	}
	var resp uploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("clients: decode upload response: %w", err)
	}
	return resp.FileURL, nil
}

func (c *ParkingClient) call(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = data
	}

	status, respBody, err := c.base.Do(ctx, method, path, body, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return newAPIError(status, respBody)
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("clients: decode %s %s: %w", method, path, err)
	}
	return nil
}
