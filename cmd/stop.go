package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/omerlv/chargelink/api"
	"github.com/omerlv/chargelink/config"
)

var (
	stopSessionID string
	stopAddr      string
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop an active charging session through the running service",
	RunE:  stopSession,
}

func init() {
	stopCmd.Flags().StringVar(&stopSessionID, "session", "", "session id to stop")
	stopCmd.Flags().StringVar(&stopAddr, "addr", "", "service address (defaults to the configured api addr)")
	_ = stopCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(stopCmd)
}

func stopSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	addr := stopAddr
	if addr == "" {
		addr = "http://localhost" + cfg.API.Addr
	}

	body, err := json.Marshal(map[string]string{"session_id": stopSessionID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, addr+"/api/sessions/stop", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if !cfg.API.AuthDisabled {
		token, err := signOperatorToken(cfg.API.JWTSecret)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("stop request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("stop failed: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %s stopped\n", stopSessionID)
	return nil
}

// signOperatorToken mints a short-lived bearer token with the shared API
// secret so the CLI can talk to its own service.
func signOperatorToken(secret string) (string, error) {
	claims := api.Claims{
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "chargelink-cli",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
