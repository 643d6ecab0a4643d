// Command seedrules installs a sensible default rule set through the rules
// API. It is idempotent by rule name: rules that already exist are skipped.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

type ruleParams struct {
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	Pattern    string   `json:"pattern,omitempty"`
	Allowed    []string `json:"allowed,omitempty"`
	WhenField  string   `json:"when_field,omitempty"`
	WhenEquals string   `json:"when_equals,omitempty"`
	Require    string   `json:"require_field,omitempty"`
}

type rule struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Field       string     `json:"field"`
	Category    string     `json:"category"`
	Severity    string     `json:"severity"`
	Params      ruleParams `json:"params"`
	Active      bool       `json:"active"`
	Position    int        `json:"position"`
}

func f(v float64) *float64 { return &v }

func defaultRules() []rule {
	return []rule{
		{Name: "student id required", Field: "student_id", Category: "REQUIRED", Severity: "ERROR", Active: true, Position: 10},
		{Name: "full name required", Field: "full_name", Category: "REQUIRED", Severity: "ERROR", Active: true, Position: 20},
		{Name: "attendance in range", Field: "attendance_percent", Category: "RANGE", Severity: "ERROR", Params: ruleParams{Min: f(0), Max: f(100)}, Active: true, Position: 30},
		{Name: "test score in range", Field: "test_score", Category: "RANGE", Severity: "ERROR", Params: ruleParams{Min: f(0), Max: f(100)}, Active: true, Position: 40},
		{Name: "email format", Field: "email", Category: "FORMAT", Severity: "WARNING", Params: ruleParams{Pattern: "email"}, Active: true, Position: 50},
		{Name: "phone format", Field: "phone", Category: "FORMAT", Severity: "WARNING", Params: ruleParams{Pattern: "phone"}, Active: true, Position: 60},
		{Name: "fee status values", Field: "fee_status", Category: "ENUM", Severity: "WARNING", Params: ruleParams{Allowed: []string{"PAID", "PARTIAL", "UNPAID", "OVERDUE"}}, Active: true, Position: 70},
	}
}

func main() {
	baseURL := flag.String("base-url", "http://localhost:8080/api/v1", "API base URL")
	token := flag.String("token", "", "admin bearer token")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	existing, err := listRules(client, *baseURL, *token)
	if err != nil {
		log.Fatalf("list rules: %v", err)
	}

	created := 0
	for _, r := range defaultRules() {
		if _, ok := existing[r.Name]; ok {
			continue
		}
		if err := createRule(client, *baseURL, *token, r); err != nil {
			log.Fatalf("create rule %q: %v", r.Name, err)
		}
		created++
	}
	fmt.Printf("seeded %d rules (%d already present)\n", created, len(existing))
}

func listRules(client *http.Client, baseURL, token string) (map[string]struct{}, error) {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/rules", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var envelope struct {
		Data []rule `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(envelope.Data))
	for _, r := range envelope.Data {
		names[r.Name] = struct{}{}
	}
	return names, nil
}

func createRule(client *http.Client, baseURL, token string, r rule) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+"/rules", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return nil
}
