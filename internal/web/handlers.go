// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowscripts/flow/internal/account"
	"github.com/flowscripts/flow/internal/team"
	"github.com/flowscripts/flow/internal/telemetry"
)

// AccountService is the account orchestrator.
type AccountService interface {
	Register(ctx context.Context, in account.RegisterInput) error
	Login(ctx context.Context, username, password string) (*account.LoginResult, error)
	ResetHWID(ctx context.Context, username string) error
	GetStats(ctx context.Context, username string) (*account.Stats, error)
}

// TelemetrySource serves the public telemetry payload.
type TelemetrySource interface {
	Snapshot(ctx context.Context) (*telemetry.Payload, error)
}

// TeamSource serves the public team payload.
type TeamSource interface {
	Profiles(ctx context.Context) (*team.Payload, error)
}

// IPResolver discovers the server's egress IP.
type IPResolver interface {
	Lookup(ctx context.Context) (*string, error)
}

type handlers struct {
	accounts  AccountService
	telemetry TelemetrySource
	team      TeamSource
	egress    IPResolver
}

// field accepts any JSON scalar and keeps its text form, so a numeric
// password is treated like its string spelling. null and absent fields are
// empty.
type field string

func (f *field) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = field(s)
	case len(data) > 0 && (data[0] == '{' || data[0] == '['):
		*f = ""
	default:
		*f = field(data)
	}
	return nil
}

type registerRequest struct {
	Username   field `json:"username"`
	Password   field `json:"password"`
	LicenseKey field `json:"license_key"`
}

type loginRequest struct {
	Username field `json:"username"`
	Password field `json:"password"`
}

type message struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type loginResponse struct {
	Success bool         `json:"success"`
	Token   string       `json:"token"`
	User    loginSubject `json:"user"`
}

type loginSubject struct {
	Username string `json:"username"`
}

type redeemResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	KeyData map[string]string `json:"key_data"`
}

type statsResponse struct {
	Success    bool   `json:"success"`
	Executions int64  `json:"executions"`
	HWIDStatus string `json:"hwid_status"`
	KeyStatus  string `json:"key_status"`
}

type serverIPResponse struct {
	Success bool    `json:"success"`
	IP      *string `json:"ip"`
}

// decodeBody reads an optional JSON object. An empty body decodes to the
// zero value.
func decodeBody(c *gin.Context, dst any) bool {
	if c.Request.Body == nil {
		return true
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		if isMaxBytes(err) {
			fail(c, http.StatusRequestEntityTooLarge, MsgBodyTooLarge)
			return false
		}
		fail(c, http.StatusBadRequest, MsgMalformedBody)
		return false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return true
	}
	if err := json.Unmarshal(data, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			// The body is valid JSON but not an object; treat it as empty.
			return true
		}
		fail(c, http.StatusBadRequest, MsgMalformedBody)
		return false
	}
	return true
}

func (h *handlers) register(c *gin.Context) {
	var req registerRequest
	if !decodeBody(c, &req) {
		return
	}

	err := h.accounts.Register(c.Request.Context(), account.RegisterInput{
		Username:   string(req.Username),
		Password:   string(req.Password),
		LicenseKey: string(req.LicenseKey),
	})
	if err != nil {
		respondError(c, err, registerStatus)
		return
	}
	c.JSON(http.StatusOK, message{Success: true, Message: account.MsgRegistered})
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if !decodeBody(c, &req) {
		return
	}

	res, err := h.accounts.Login(c.Request.Context(), string(req.Username), string(req.Password))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, loginResponse{Success: true, Token: res.Token, User: loginSubject{Username: res.Username}})
}

// redeem is a placeholder until key redemption exists upstream.
func (h *handlers) redeem(c *gin.Context) {
	c.JSON(http.StatusOK, redeemResponse{
		Success: true,
		Message: "Under construction.",
		KeyData: map[string]string{"status": "Active"},
	})
}

func (h *handlers) resetHWID(c *gin.Context) {
	if err := h.accounts.ResetHWID(c.Request.Context(), sessionFrom(c).Username); err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, message{Success: true, Message: account.MsgResetDone})
}

func (h *handlers) stats(c *gin.Context) {
	stats, err := h.accounts.GetStats(c.Request.Context(), sessionFrom(c).Username)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, statsResponse{
		Success:    true,
		Executions: stats.Executions,
		HWIDStatus: stats.HWIDStatus,
		KeyStatus:  stats.KeyStatus,
	})
}

func (h *handlers) publicTelemetry(c *gin.Context) {
	payload, err := h.telemetry.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *handlers) teamProfiles(c *gin.Context) {
	payload, err := h.team.Profiles(c.Request.Context())
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (h *handlers) serverIP(c *gin.Context) {
	ip, err := h.egress.Lookup(c.Request.Context())
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, serverIPResponse{Success: true, IP: ip})
}

func notFound(c *gin.Context) {
	fail(c, http.StatusNotFound, MsgNotFound)
}
