//go:build integration
// +build integration

// Package integration provides end-to-end tests for a running ClaimGuard
// instance loaded with a real model and frequency table.
//
// The tests check the contract of the scoring pipeline:
//
//	Claim record -> Feature vector -> Model -> Risk score and label -> Stored claim
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// Point CLAIMGUARD_TEST_URL at the instance (default http://localhost:8080).
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/risk"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("CLAIMGUARD_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

var client = &http.Client{Timeout: 10 * time.Second}

func sampleClaim(claimID string, amount float64) map[string]any {
	return map[string]any{
		"ClaimID":                  claimID,
		"BeneID":                   "BENE11001",
		"Provider":                 "PRV51459",
		"InscClaimAmtReimbursed":   amount,
		"DeductibleAmtPaid":        1068,
		"Gender":                   "Male",
		"Race":                     "Asian",
		"RenalDiseaseIndicator":    "Y",
		"State":                    39,
		"County":                   230,
		"NoOfMonths_PartACov":      12,
		"NoOfMonths_PartBCov":      12,
		"ChronicCond_Alzheimer":    1,
		"ChronicCond_Heartfailure": 2,
		"IPAnnualReimbursementAmt": 36000,
		"IPAnnualDeductibleAmt":    3204,
		"OPAnnualReimbursementAmt": 60,
		"OPAnnualDeductibleAmt":    70,
		"AttendingPhysician":       "PHY390922",
		"ClmAdmitDiagnosisCode":    "7866",
		"DiagnosisGroupCode":       "201",
		"ClmProcedureCode_1":       "",
		"ClmDiagnosisCode_1":       "1970",
	}
}

func doJSON(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func checkAssessment(t *testing.T, result domain.AssessmentResponse) {
	t.Helper()

	if result.RiskScore < 0 || result.RiskScore > 100 {
		t.Errorf("Score out of range: %d", result.RiskScore)
	}
	if want := risk.Label(result.RiskScore); result.RiskLabel != want {
		t.Errorf("Label %q does not match score %d (want %q)", result.RiskLabel, result.RiskScore, want)
	}
	if want := int(math.Floor(result.FraudProbability * 100)); result.RiskScore != want {
		t.Errorf("Score %d is not floor(100*%.6f)", result.RiskScore, result.FraudProbability)
	}
	if len(result.Probabilities) != 2 {
		t.Fatalf("Expected two class probabilities, got %v", result.Probabilities)
	}
	if sum := result.Probabilities[0] + result.Probabilities[1]; math.Abs(sum-1) > 1e-9 {
		t.Errorf("Probabilities do not sum to 1: %v", result.Probabilities)
	}
}

// ============================================================================
// SCENARIO 1: Submit, store and read back
// ============================================================================

func TestSubmitClaim_StoredWithRisk(t *testing.T) {
	config := getTestConfig()

	status, body := doJSON(t, http.MethodPost, config.BaseURL+"/claims", sampleClaim("CLM-IT-001", 26000))
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", status, body)
	}

	var result domain.AssessmentResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, body)
	}
	checkAssessment(t, result)

	status, body = doJSON(t, http.MethodGet, config.BaseURL+"/claims/"+result.ClaimID, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	var claim domain.Claim
	if err := json.Unmarshal(body, &claim); err != nil {
		t.Fatalf("Failed to unmarshal claim: %v", err)
	}
	if claim.RiskScore == nil || *claim.RiskScore != result.RiskScore {
		t.Errorf("Stored score %v does not match response %d", claim.RiskScore, result.RiskScore)
	}
	if claim.RiskLabel != result.RiskLabel {
		t.Errorf("Stored label %q does not match response %q", claim.RiskLabel, result.RiskLabel)
	}

	t.Logf("Claim %s scored %d (%s)", result.ClaimID, result.RiskScore, result.RiskLabel)
}

// ============================================================================
// SCENARIO 2: Preview is deterministic and matches stored scoring
// ============================================================================

func TestAssess_Deterministic(t *testing.T) {
	config := getTestConfig()
	claim := sampleClaim("CLM-IT-002", 4000)

	var first domain.AssessmentResponse
	for i := 0; i < 3; i++ {
		status, body := doJSON(t, http.MethodPost, config.BaseURL+"/assess", claim)
		if status != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", status, body)
		}

		var result domain.AssessmentResponse
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatalf("Failed to unmarshal response: %v", err)
		}
		checkAssessment(t, result)

		if i == 0 {
			first = result
			continue
		}
		if result.FraudProbability != first.FraudProbability {
			t.Errorf("Run %d probability %.12f differs from %.12f", i, result.FraudProbability, first.FraudProbability)
		}
	}
}

// ============================================================================
// SCENARIO 3: Malformed numeric field is rejected and nothing is stored
// ============================================================================

func TestMalformedClaim_Rejected(t *testing.T) {
	config := getTestConfig()

	claim := sampleClaim("CLM-IT-003", 1000)
	claim["IPAnnualReimbursementAmt"] = "thirty thousand"

	status, body := doJSON(t, http.MethodPost, config.BaseURL+"/claims", claim)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d: %s", status, body)
	}

	var resp map[string]string
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to unmarshal error: %v", err)
	}
	if resp["field"] != "IPAnnualReimbursementAmt" {
		t.Errorf("Expected field IPAnnualReimbursementAmt, got %q", resp["field"])
	}
}

// ============================================================================
// SCENARIO 4: Re-analysis keeps the claim and refreshes its risk columns
// ============================================================================

func TestAnalyzeClaim_Rescored(t *testing.T) {
	config := getTestConfig()

	status, body := doJSON(t, http.MethodPost, config.BaseURL+"/claims", sampleClaim("CLM-IT-004", 12000))
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", status, body)
	}
	var created domain.AssessmentResponse
	json.Unmarshal(body, &created)

	status, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/claims/%s/analyze", config.BaseURL, created.ClaimID), nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	var analyzed domain.AssessmentResponse
	if err := json.Unmarshal(body, &analyzed); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	checkAssessment(t, analyzed)

	if analyzed.RiskScore != created.RiskScore {
		t.Errorf("Re-analysis of an unchanged claim moved the score: %d -> %d", created.RiskScore, analyzed.RiskScore)
	}

	status, _ = doJSON(t, http.MethodPost, config.BaseURL+"/claims/no-such-claim/analyze", nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown claim, got %d", status)
	}
}

// ============================================================================
// SCENARIO 5: Schema exposes the model's feature order
// ============================================================================

func TestSchema_MatchesModel(t *testing.T) {
	config := getTestConfig()

	status, body := doJSON(t, http.MethodGet, config.BaseURL+"/schema", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}

	var resp struct {
		Features []struct {
			Name string `json:"name"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to unmarshal schema: %v", err)
	}
	if len(resp.Features) != 30 {
		t.Errorf("Expected 30 features, got %d", len(resp.Features))
	}
}

// ============================================================================
// SCENARIO 6: Health and metrics
// ============================================================================

func TestHealthAndMetrics(t *testing.T) {
	config := getTestConfig()

	status, body := doJSON(t, http.MethodGet, config.BaseURL+"/health", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}

	status, body = doJSON(t, http.MethodGet, config.BaseURL+"/metrics", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if !bytes.Contains(body, []byte("claimguard_assessments_total")) {
		t.Error("Expected claimguard_assessments_total in metrics output")
	}
}
