package postgres

import (
	"encoding/json"

	"github.com/tendolabs/tendo/internal/approval"
	"github.com/tendolabs/tendo/internal/audit"
	"github.com/tendolabs/tendo/internal/budget"
	"github.com/tendolabs/tendo/internal/execution"
)

// mapToJSONB marshals a metadata map for storage. Nil maps become nil, not "null".
func mapToJSONB(m map[string]any) (JSONB, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return JSONB(data), nil
}

// jsonbToMap unmarshals a stored metadata column. Corrupt or empty columns
// come back as nil rather than an error — readers treat metadata as optional.
func jsonbToMap(b JSONB) map[string]any {
	if len(b) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

func executionToModel(e *execution.Execution) (*ExecutionModel, error) {
	input, err := mapToJSONB(e.Input)
	if err != nil {
		return nil, err
	}
	return &ExecutionModel{
		ID:                     e.ID,
		TenantID:               e.TenantID,
		IdempotencyKey:         e.IdempotencyKey,
		SkillKey:               e.SkillKey,
		SkillVersion:           e.SkillVersion,
		ExecutorType:           string(e.ExecutorType),
		ExecutorID:             e.ExecutorID,
		LegalResponsibleUserID: e.LegalResponsibleUserID,
		ResponsibilityLevel:    int16(e.ResponsibilityLevel),
		State:                  string(e.State),
		PreviousState:          string(e.PreviousState),
		StateChangedAt:         e.StateChangedAt,
		StateChangedBy:         e.StateChangedBy,
		Input:                  input,
		ReservedCostUSD:        e.ReservedCostUSD,
		ConsumedCostUSD:        e.ConsumedCostUSD,
		BudgetReleased:         e.BudgetReleased,
		ResultStatus:           e.ResultStatus,
		ResultSummary:          e.ResultSummary,
		ErrorCode:              e.ErrorCode,
		ErrorMessage:           e.ErrorMessage,
		TraceID:                e.TraceID,
		RequestOrigin:          e.RequestOrigin,
		ParentExecutionID:      e.ParentExecutionID,
		CreatedAt:              e.CreatedAt,
		StartedAt:              e.StartedAt,
		CompletedAt:            e.CompletedAt,
		UpdatedAt:              e.UpdatedAt,
	}, nil
}

func executionFromModel(m *ExecutionModel) *execution.Execution {
	return &execution.Execution{
		ID:                     m.ID,
		TenantID:               m.TenantID,
		IdempotencyKey:         m.IdempotencyKey,
		SkillKey:               m.SkillKey,
		SkillVersion:           m.SkillVersion,
		ExecutorType:           execution.ExecutorType(m.ExecutorType),
		ExecutorID:             m.ExecutorID,
		LegalResponsibleUserID: m.LegalResponsibleUserID,
		ResponsibilityLevel:    execution.ResponsibilityLevel(m.ResponsibilityLevel),
		State:                  execution.State(m.State),
		PreviousState:          execution.State(m.PreviousState),
		StateChangedAt:         m.StateChangedAt,
		StateChangedBy:         m.StateChangedBy,
		Input:                  jsonbToMap(m.Input),
		ReservedCostUSD:        m.ReservedCostUSD,
		ConsumedCostUSD:        m.ConsumedCostUSD,
		BudgetReleased:         m.BudgetReleased,
		ResultStatus:           m.ResultStatus,
		ResultSummary:          m.ResultSummary,
		ErrorCode:              m.ErrorCode,
		ErrorMessage:           m.ErrorMessage,
		TraceID:                m.TraceID,
		RequestOrigin:          m.RequestOrigin,
		ParentExecutionID:      m.ParentExecutionID,
		CreatedAt:              m.CreatedAt,
		StartedAt:              m.StartedAt,
		CompletedAt:            m.CompletedAt,
		UpdatedAt:              m.UpdatedAt,
	}
}

func transitionToModel(r *execution.TransitionRecord) (*TransitionModel, error) {
	meta, err := mapToJSONB(r.Metadata)
	if err != nil {
		return nil, err
	}
	return &TransitionModel{
		ID:          r.ID,
		ExecutionID: r.ExecutionID,
		FromState:   string(r.FromState),
		ToState:     string(r.ToState),
		ActorID:     r.ActorID,
		Metadata:    meta,
		CreatedAt:   r.CreatedAt,
	}, nil
}

func transitionFromModel(m *TransitionModel) execution.TransitionRecord {
	return execution.TransitionRecord{
		ID:          m.ID,
		ExecutionID: m.ExecutionID,
		FromState:   execution.State(m.FromState),
		ToState:     execution.State(m.ToState),
		ActorID:     m.ActorID,
		Metadata:    jsonbToMap(m.Metadata),
		CreatedAt:   m.CreatedAt,
	}
}

func budgetToModel(b *budget.Budget) *BudgetModel {
	return &BudgetModel{
		ID:          b.ID,
		TenantID:    b.TenantID,
		Scope:       string(b.Scope),
		ScopeRef:    b.ScopeRef,
		LimitUSD:    b.LimitUSD,
		UsedUSD:     b.UsedUSD,
		ReservedUSD: b.ReservedUSD,
		HardLimit:   b.HardLimit,
		PeriodStart: b.PeriodStart,
		PeriodEnd:   b.PeriodEnd,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func budgetFromModel(m *BudgetModel) *budget.Budget {
	return &budget.Budget{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Scope:       budget.Scope(m.Scope),
		ScopeRef:    m.ScopeRef,
		LimitUSD:    m.LimitUSD,
		UsedUSD:     m.UsedUSD,
		ReservedUSD: m.ReservedUSD,
		HardLimit:   m.HardLimit,
		PeriodStart: m.PeriodStart,
		PeriodEnd:   m.PeriodEnd,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func reservationToModel(r *budget.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:              r.ID,
		BudgetID:        r.BudgetID,
		TenantID:        r.TenantID,
		ExecutionID:     r.ExecutionID,
		AmountUSD:       r.AmountUSD,
		Status:          string(r.Status),
		ActualAmountUSD: r.ActualAmountUSD,
		CreatedAt:       r.CreatedAt,
		ConsumedAt:      r.ConsumedAt,
		ReleasedAt:      r.ReleasedAt,
	}
}

func reservationFromModel(m *ReservationModel) *budget.Reservation {
	return &budget.Reservation{
		ID:              m.ID,
		BudgetID:        m.BudgetID,
		TenantID:        m.TenantID,
		ExecutionID:     m.ExecutionID,
		AmountUSD:       m.AmountUSD,
		Status:          budget.ReservationStatus(m.Status),
		ActualAmountUSD: m.ActualAmountUSD,
		CreatedAt:       m.CreatedAt,
		ConsumedAt:      m.ConsumedAt,
		ReleasedAt:      m.ReleasedAt,
	}
}

func transactionToModel(t *budget.Transaction) *TransactionModel {
	return &TransactionModel{
		ID:            t.ID,
		BudgetID:      t.BudgetID,
		ReservationID: t.ReservationID,
		TenantID:      t.TenantID,
		ExecutionID:   t.ExecutionID,
		Type:          string(t.Type),
		AmountUSD:     t.AmountUSD,
		CreatedAt:     t.CreatedAt,
	}
}

func transactionFromModel(m *TransactionModel) *budget.Transaction {
	return &budget.Transaction{
		ID:            m.ID,
		BudgetID:      m.BudgetID,
		ReservationID: m.ReservationID,
		TenantID:      m.TenantID,
		ExecutionID:   m.ExecutionID,
		Type:          budget.TransactionType(m.Type),
		AmountUSD:     m.AmountUSD,
		CreatedAt:     m.CreatedAt,
	}
}

func approvalToModel(r *approval.Request) *ApprovalModel {
	return &ApprovalModel{
		ID:              r.ID,
		TenantID:        r.TenantID,
		ExecutionID:     r.ExecutionID,
		RequesterID:     r.RequesterID,
		ApproverID:      r.ApproverID,
		Status:          string(r.Status),
		Scope:           r.Scope,
		ExpiresAt:       r.ExpiresAt,
		ApprovedAt:      r.ApprovedAt,
		RejectedAt:      r.RejectedAt,
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt,
	}
}

func approvalFromModel(m *ApprovalModel) *approval.Request {
	return &approval.Request{
		ID:              m.ID,
		TenantID:        m.TenantID,
		ExecutionID:     m.ExecutionID,
		RequesterID:     m.RequesterID,
		ApproverID:      m.ApproverID,
		Status:          approval.Status(m.Status),
		Scope:           m.Scope,
		ExpiresAt:       m.ExpiresAt,
		ApprovedAt:      m.ApprovedAt,
		RejectedAt:      m.RejectedAt,
		RejectionReason: m.RejectionReason,
		CreatedAt:       m.CreatedAt,
	}
}

func auditToModel(e *audit.Entry) (*AuditEntryModel, error) {
	meta, err := mapToJSONB(e.Metadata)
	if err != nil {
		return nil, err
	}
	return &AuditEntryModel{
		ID:        e.ID,
		TenantID:  e.TenantID,
		Action:    e.Action,
		ActorID:   e.ActorID,
		Resource:  e.Resource,
		Metadata:  meta,
		Timestamp: e.Timestamp,
	}, nil
}

func auditFromModel(m *AuditEntryModel) audit.Entry {
	return audit.Entry{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Action:    m.Action,
		ActorID:   m.ActorID,
		Resource:  m.Resource,
		Metadata:  jsonbToMap(m.Metadata),
		Timestamp: m.Timestamp,
	}
}
