package models

import (
	"encoding/json"
	"time"
)

// User represents a user vertex in the relationship graph
type User struct {
	UserID           string `json:"user_id" bson:"user_id"`
	FullName         string `json:"full_name" bson:"full_name"`
	Email            string `json:"email" bson:"email"`
	EmailDomain      string `json:"email_domain" bson:"email_domain"`
	Address          string `json:"address" bson:"address"`
	AddressZip       string `json:"address_zip" bson:"address_zip"`
	AddressCity      string `json:"address_city" bson:"address_city"`
	AddressProvince  string `json:"address_province" bson:"address_province"`
	AddressKecamatan string `json:"address_kecamatan" bson:"address_kecamatan"`
	PhoneNumber      string `json:"phone_number" bson:"phone_number"`
	IsFraud          bool   `json:"is_fraud" bson:"is_fraud"`
}

// Doc flattens the user into a field→value document for graph rule
// evaluation.
func (u *User) Doc() map[string]any {
	return map[string]any{
		"user_id":           u.UserID,
		"full_name":         u.FullName,
		"email":             u.Email,
		"email_domain":      u.EmailDomain,
		"address":           u.Address,
		"address_zip":       u.AddressZip,
		"address_city":      u.AddressCity,
		"address_province":  u.AddressProvince,
		"address_kecamatan": u.AddressKecamatan,
		"phone_number":      u.PhoneNumber,
		"is_fraud":          u.IsFraud,
	}
}

// Transaction represents a submitted transaction. The item list and the
// payment/shipping blocks are carried through untouched; scoring never
// reads them.
type Transaction struct {
	TransactionID   string           `json:"transaction_id" bson:"transaction_id"`
	UserID          string           `json:"user_id" bson:"user_id"`
	Amount          float64          `json:"amount" bson:"amount"`
	TransactionType string           `json:"transaction_type" bson:"transaction_type"`
	Timestamp       time.Time        `json:"timestamp" bson:"timestamp"`
	ListOfItems     []map[string]any `json:"list_of_items,omitempty" bson:"list_of_items,omitempty"`
	Payment         map[string]any   `json:"payment,omitempty" bson:"payment,omitempty"`
	Shipping        map[string]any   `json:"shipping,omitempty" bson:"shipping,omitempty"`
}

// TransactionType enum values
const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypeTransfer   = "transfer"
)

// ValidTransactionType reports whether t is a member of the closed type set.
func ValidTransactionType(t string) bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer:
		return true
	}
	return false
}

// Doc flattens the transaction into a field→value document for rule
// evaluation, mirroring its wire shape.
func (t *Transaction) Doc() map[string]any {
	doc := map[string]any{
		"transaction_id":   t.TransactionID,
		"user_id":          t.UserID,
		"amount":           t.Amount,
		"transaction_type": t.TransactionType,
		"timestamp":        t.Timestamp,
	}
	if t.ListOfItems != nil {
		doc["list_of_items"] = t.ListOfItems
	}
	if t.Payment != nil {
		doc["payment"] = t.Payment
	}
	if t.Shipping != nil {
		doc["shipping"] = t.Shipping
	}
	return doc
}

// RuleType discriminates the variants stored in the rules collection
type RuleType string

// RuleType enum values
const (
	RuleTypeStandard RuleType = "standard"
	RuleTypeVelocity RuleType = "velocity"
	RuleTypeGraph    RuleType = "graph"
)

// Operator enum values (closed set; no runtime extension)
const (
	OpEqual            = "equal"
	OpNotEqual         = "not_equal"
	OpGreaterThan      = "greater_than"
	OpGreaterThanEqual = "greater_than_equal"
	OpLowerThan        = "lower_than"
	OpLowerThanEqual   = "lower_than_equal"
	OpIn               = "in"
	OpNotIn            = "not_in"
	OpContains         = "contains"
)

// ValidStandardOperator reports whether op is usable in a standard rule.
func ValidStandardOperator(op string) bool {
	switch op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanEqual,
		OpLowerThan, OpLowerThanEqual, OpIn, OpNotIn, OpContains:
		return true
	}
	return false
}

// ValidGraphOperator reports whether op is usable in a graph rule.
func ValidGraphOperator(op string) bool {
	switch op {
	case OpEqual, OpGreaterThan, OpLowerThan, OpContains:
		return true
	}
	return false
}

// Aggregation enum values for velocity rules
const (
	AggCount   = "count"
	AggSum     = "sum"
	AggAverage = "average"
)

// ValidAggregation reports whether fn is a supported velocity aggregation.
func ValidAggregation(fn string) bool {
	switch fn {
	case AggCount, AggSum, AggAverage:
		return true
	}
	return false
}

// Rule is the tagged variant persisted in the rules collection. RuleType
// selects which body fields are meaningful: standard rules use
// field/operator/value, velocity rules use field/time_range/
// aggregation_function/threshold, graph rules use field1/operator and
// field2 or value.
type Rule struct {
	RuleID      string   `json:"rule_id" bson:"rule_id"`
	RuleType    RuleType `json:"rule_type" bson:"rule_type"`
	Name        string   `json:"name" bson:"name"`
	Description string   `json:"description" bson:"description"`
	RiskPoint   int      `json:"risk_point" bson:"risk_point"`

	// Standard + velocity body
	Field string `json:"field,omitempty" bson:"field,omitempty"`

	// Standard + graph body
	Operator string `json:"operator,omitempty" bson:"operator,omitempty"`
	Value    any    `json:"value,omitempty" bson:"value,omitempty"`

	// Velocity body
	TimeRange           string  `json:"time_range,omitempty" bson:"time_range,omitempty"`
	AggregationFunction string  `json:"aggregation_function,omitempty" bson:"aggregation_function,omitempty"`
	Threshold           float64 `json:"threshold,omitempty" bson:"threshold,omitempty"`

	// Graph body
	Field1 string `json:"field1,omitempty" bson:"field1,omitempty"`
	Field2 string `json:"field2,omitempty" bson:"field2,omitempty"`
}

// Policy is a named, ordered bundle of rule references
type Policy struct {
	PolicyID    string   `json:"policy_id" bson:"policy_id"`
	Name        string   `json:"name" bson:"name"`
	Description string   `json:"description" bson:"description"`
	RuleIDs     []string `json:"rule_ids" bson:"rule_ids"`
}

// Link is an undirected edge between two users. At most one link exists
// per unordered pair; self-loops are rejected everywhere.
type Link struct {
	Source  string   `json:"source" bson:"source"`
	Target  string   `json:"target" bson:"target"`
	Type    string   `json:"type" bson:"type"`
	Weight  float64  `json:"weight" bson:"weight"`
	Reasons []string `json:"reasons" bson:"reasons"`
	RuleIDs []string `json:"rule_ids" bson:"rule_ids"`
}

// LinkType enum values
const (
	LinkTypeManual    = "manual"
	LinkTypeGenerated = "multiple_rules"
)

// ZipCodeMatch is the reason and rule id token recorded by the always-on
// zip equality heuristic during link generation and clustering.
const ZipCodeMatch = "zip_code_match"

// Cluster is a persisted connected component; cluster_id is the
// lexicographically smallest member so reruns produce stable ids.
type Cluster struct {
	ClusterID string   `json:"cluster_id" bson:"cluster_id"`
	Members   []string `json:"members" bson:"members"`
}

// Verdict band enum values
const (
	VerdictNormal       = "normal"
	VerdictSuspect      = "suspect"
	VerdictFraudConfirm = "fraud_confirm"
)

// Banding thresholds (fixed per release)
const (
	RiskFraudThreshold   = 100
	RiskSuspectThreshold = 70
)

// VerdictFor classifies a summed risk score into a verdict band.
func VerdictFor(score float64) string {
	switch {
	case score >= RiskFraudThreshold:
		return VerdictFraudConfirm
	case score >= RiskSuspectThreshold:
		return VerdictSuspect
	default:
		return VerdictNormal
	}
}

// TriggeredRule names a rule that fired during policy evaluation
type TriggeredRule struct {
	RuleID    string `json:"rule_id"`
	Name      string `json:"name"`
	RiskPoint int    `json:"risk_point"`
}

// EvaluationResult is the outcome of scoring one transaction against all
// policies
type EvaluationResult struct {
	TransactionID  string          `json:"transaction_id"`
	UserID         string          `json:"user_id"`
	RiskPoints     int             `json:"risk_points"`
	RiskLevel      string          `json:"risk_level"`
	TriggeredRules []TriggeredRule `json:"triggered_rules"`
}

// AnalyzeResult is the graph proximity report for one user. PathFound
// distinguishes a genuine zero-hop distance from an unreachable fraud set.
type AnalyzeResult struct {
	UserID             string   `json:"user_id"`
	ProximityScore     float64  `json:"proximity_score"`
	ShortestPathLength int      `json:"-"`
	PathFound          bool     `json:"-"`
	ClosestFraudster   string   `json:"closest_fraudster,omitempty"`
	LinkedFraudCount   int      `json:"linked_fraud_count"`
	TotalLinkedNodes   int      `json:"total_linked_nodes"`
	TriggeredRules     []string `json:"triggered_rules"`
}

// NoPath is the wire sentinel emitted when no fraudster is reachable.
const NoPath = "No path"

// MarshalJSON emits shortest_path_length_to_fraudster as the hop count or
// the "No path" sentinel.
func (r AnalyzeResult) MarshalJSON() ([]byte, error) {
	type alias AnalyzeResult
	var pathLen any = NoPath
	if r.PathFound {
		pathLen = r.ShortestPathLength
	}
	return json.Marshal(struct {
		alias
		ShortestPathLengthToFraudster any `json:"shortest_path_length_to_fraudster"`
	}{alias(r), pathLen})
}

// UnmarshalJSON accepts both the hop count and the sentinel form, so the
// remote graph client can decode what the local engine emits.
func (r *AnalyzeResult) UnmarshalJSON(data []byte) error {
	type alias AnalyzeResult
	aux := struct {
		*alias
		ShortestPathLengthToFraudster any `json:"shortest_path_length_to_fraudster"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if n, ok := aux.ShortestPathLengthToFraudster.(float64); ok {
		r.ShortestPathLength = int(n)
		r.PathFound = true
	}
	return nil
}

// NNResult is the neural-net scorer response
type NNResult struct {
	FraudScore float64 `json:"fraud_score"`
}

// TextResult is the text analyzer response
type TextResult struct {
	FraudScore    float64 `json:"fraud_score"`
	Justification string  `json:"justification,omitempty"`
}

// Orchestrator component keys, used both for sub-results and the errors map
const (
	ComponentRules = "rules"
	ComponentGraph = "graph"
	ComponentNN    = "nn"
	ComponentText  = "text"
)

// FraudCheckResult aggregates the four analyzer sub-results. A failed
// component leaves its zero sub-result in place and records the failure in
// Errors; the check itself still succeeds.
type FraudCheckResult struct {
	TransactionID string            `json:"transaction_id"`
	FraudScore    float64           `json:"fraud_score"`
	RiskLevel     string            `json:"risk_level"`
	Rules         EvaluationResult  `json:"rules"`
	Graph         AnalyzeResult     `json:"graph"`
	NN            NNResult          `json:"nn"`
	Text          TextResult        `json:"text"`
	Errors        map[string]string `json:"errors,omitempty"`
}

// ScoringEvent is published to the Redis stream after every evaluation
type ScoringEvent struct {
	EventID          string    `json:"event_id"`
	TransactionID    string    `json:"transaction_id"`
	UserID           string    `json:"user_id"`
	RiskPoints       int       `json:"risk_points"`
	RiskLevel        string    `json:"risk_level"`
	TriggeredRuleIDs []string  `json:"triggered_rule_ids"`
	Source           string    `json:"source"`
	Timestamp        time.Time `json:"timestamp"`
	RetryCount       int       `json:"retry_count"`
}

// ScoringEvent source enum values
const (
	ScoringSourceTransactions = "transactions"
	ScoringSourceFraudCheck   = "fraud_check"
)

// RuleStat is one row of the rule statistics report
type RuleStat struct {
	RuleID string `json:"rule_id"`
	Name   string `json:"name,omitempty"`
	Count  int64  `json:"count"`
}

// UserRiskInfo is the per-user scoring profile derived from the event
// pipeline
type UserRiskInfo struct {
	UserID          string     `json:"user_id"`
	EvaluationCount int64      `json:"evaluation_count"`
	TotalRiskPoints int64      `json:"total_risk_points"`
	AvgRiskPoints   float64    `json:"avg_risk_points"`
	LastRiskLevel   string     `json:"last_risk_level,omitempty"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at,omitempty"`
}
