// Package errors defines the structured error taxonomy surfaced by the
// Katalyst runtime core: Configuration, Validation, Lifecycle,
// Transactional, Scheduling, and Transport errors.
package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error into one of the six taxonomy buckets.
type Kind string

const (
	KindConfiguration Kind = "CONFIGURATION"
	KindValidation    Kind = "VALIDATION"
	KindLifecycle     Kind = "LIFECYCLE"
	KindTransactional Kind = "TRANSACTIONAL"
	KindScheduling    Kind = "SCHEDULING"
	KindTransport     Kind = "TRANSPORT"
)

// CoreError is the common shape every taxonomy error implements.
type CoreError struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

func newCore(kind Kind, code, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Code: code, Message: message, Cause: cause}
}

// MissingDependencyError carries the owning component, the parameter
// name, and the required contract, along with a human-readable fix hint.
type MissingDependencyError struct {
	*CoreError
	Component        string
	ParameterName    string
	RequiredContract string
}

func NewMissingDependency(component, parameterName, requiredContract string) *MissingDependencyError {
	msg := fmt.Sprintf("component %q requires %q for parameter %q but no binding was found",
		component, requiredContract, parameterName)
	return &MissingDependencyError{
		CoreError:        newCore(KindValidation, "MISSING_DEPENDENCY", msg, nil),
		Component:        component,
		ParameterName:    parameterName,
		RequiredContract: requiredContract,
	}
}

func (e *MissingDependencyError) Suggestion() string {
	return fmt.Sprintf("register a component implementing %q, or mark the %q parameter of %q optional/defaulted",
		e.RequiredContract, e.ParameterName, e.Component)
}

// AmbiguousBindingError is raised when more than one primary binding
// exists for a single-binding contract.
type AmbiguousBindingError struct {
	*CoreError
	Contract   string
	Candidates []string
}

func NewAmbiguousBinding(contract string, candidates []string) *AmbiguousBindingError {
	msg := fmt.Sprintf("contract %q has %d primary bindings: %s",
		contract, len(candidates), strings.Join(candidates, ", "))
	return &AmbiguousBindingError{
		CoreError:  newCore(KindValidation, "AMBIGUOUS_BINDING", msg, nil),
		Contract:   contract,
		Candidates: candidates,
	}
}

func (e *AmbiguousBindingError) Suggestion() string {
	return fmt.Sprintf("raise the priority of one %s binding, or mark the rest non-primary", e.Contract)
}

// SecondaryBindingMissingError is raised when a generic specialization
// cannot be resolved unambiguously.
type SecondaryBindingMissingError struct {
	*CoreError
	Contract  string
	Parameter string
}

func NewSecondaryBindingMissing(contract, parameter string) *SecondaryBindingMissingError {
	msg := fmt.Sprintf("no secondary binding resolves generic parameter %q of %q", parameter, contract)
	return &SecondaryBindingMissingError{
		CoreError: newCore(KindValidation, "SECONDARY_BINDING_MISSING", msg, nil),
		Contract:  contract,
		Parameter: parameter,
	}
}

func (e *SecondaryBindingMissingError) Suggestion() string {
	return fmt.Sprintf("register a concrete specialization of %q for parameter %q", e.Contract, e.Parameter)
}

// CircularDependencyError carries the full cycle path from the Tarjan SCC
// pass.
type CircularDependencyError struct {
	*CoreError
	Cycle []string
}

func NewCircularDependency(cycle []string) *CircularDependencyError {
	msg := fmt.Sprintf("circular dependency: %s", strings.Join(cycle, " -> "))
	return &CircularDependencyError{
		CoreError: newCore(KindValidation, "CIRCULAR_DEPENDENCY", msg, nil),
		Cycle:     cycle,
	}
}

func (e *CircularDependencyError) Suggestion() string {
	return "break the cycle by introducing an interface boundary or lazy accessor between " +
		strings.Join(e.Cycle, " and ")
}

// InstantiationFailureError wraps a constructor panic/error together with
// the offending descriptor's name.
type InstantiationFailureError struct {
	*CoreError
	Component string
}

func NewInstantiationFailure(component string, cause error) *InstantiationFailureError {
	msg := fmt.Sprintf("failed to instantiate %q", component)
	return &InstantiationFailureError{
		CoreError: newCore(KindValidation, "INSTANTIATION_FAILURE", msg, cause),
		Component: component,
	}
}

// ValidationDetail is one entry of a FatalValidationError report.
type ValidationDetail struct {
	Kind       string
	Component  string
	Message    string
	Suggestion string
}

// FatalValidationError is the aggregate raised by Resolver.ValidateAll
// when one or more validation errors accumulated.
type FatalValidationError struct {
	*CoreError
	Details         []ValidationDetail
	DiscoveredNames []string
	Verbose         bool
}

func NewFatalValidation(details []ValidationDetail, discovered []string, verbose bool) *FatalValidationError {
	msg := fmt.Sprintf("%d validation error(s)", len(details))
	return &FatalValidationError{
		CoreError:       newCore(KindValidation, "FATAL_VALIDATION", msg, nil),
		Details:         details,
		DiscoveredNames: discovered,
		Verbose:         verbose,
	}
}

// TotalsByKind returns a count of details grouped by their Kind label.
func (e *FatalValidationError) TotalsByKind() map[string]int {
	totals := make(map[string]int)
	for _, d := range e.Details {
		totals[d.Kind]++
	}
	return totals
}

// Report renders the banner-framed structured report: error count,
// per-kind breakdown, top-N details, suggested fixes, and a
// discovered-components summary. topN <= 0 means "all details"
// (verbose mode).
func (e *FatalValidationError) Report(topN int) string {
	var b strings.Builder
	b.WriteString("==================== KATALYST BOOTSTRAP VALIDATION FAILED ====================\n")
	fmt.Fprintf(&b, "%d error(s) across %d discovered component(s)\n", len(e.Details), len(e.DiscoveredNames))
	totals := e.TotalsByKind()
	kinds := make([]string, 0, len(totals))
	for kind := range totals {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(&b, "  %-28s %d\n", kind, totals[kind])
	}
	b.WriteString("--------------------------------------------------------------------------\n")
	limit := len(e.Details)
	if topN > 0 && topN < limit {
		limit = topN
	}
	for i := 0; i < limit; i++ {
		d := e.Details[i]
		fmt.Fprintf(&b, "%d) [%s] %s: %s\n", i+1, d.Kind, d.Component, d.Message)
		if d.Suggestion != "" {
			fmt.Fprintf(&b, "   suggestion: %s\n", d.Suggestion)
		}
	}
	if limit < len(e.Details) {
		fmt.Fprintf(&b, "... %d more (set katalyst.di.verbose for full output)\n", len(e.Details)-limit)
	}
	b.WriteString("============================================================================")
	return b.String()
}

// TransactionTimeoutError is raised when the user block exceeds
// TransactionConfig.Timeout.
type TransactionTimeoutError struct {
	*CoreError
}

func NewTransactionTimeout(cause error) *TransactionTimeoutError {
	return &TransactionTimeoutError{CoreError: newCore(KindTransactional, "TRANSACTION_TIMEOUT", "transaction timed out", cause)}
}

// RetriesExhaustedError wraps the last cause and exposes the attempt count.
type RetriesExhaustedError struct {
	*CoreError
	Attempts int
}

func NewRetriesExhausted(attempts int, cause error) *RetriesExhaustedError {
	msg := fmt.Sprintf("retries exhausted after %d attempt(s)", attempts)
	return &RetriesExhaustedError{
		CoreError: newCore(KindTransactional, "RETRIES_EXHAUSTED", msg, cause),
		Attempts:  attempts,
	}
}

// DeadlockError is the internal marker that always triggers a retry.
type DeadlockError struct {
	*CoreError
}

func NewDeadlock(cause error) *DeadlockError {
	return &DeadlockError{CoreError: newCore(KindTransactional, "DEADLOCK", "deadlock detected", cause)}
}

// RollbackInitiatedError is raised when the user explicitly marks the
// context rollback-only.
type RollbackInitiatedError struct {
	*CoreError
}

func NewRollbackInitiated(reason string) *RollbackInitiatedError {
	return &RollbackInitiatedError{CoreError: newCore(KindTransactional, "ROLLBACK_INITIATED", reason, nil)}
}

// HookFailedError wraps a pre-commit/pre-rollback hook failure that
// aborted the transaction.
type HookFailedError struct {
	*CoreError
	HookID string
	Phase  string
}

func NewHookFailed(hookID, phase string, cause error) *HookFailedError {
	msg := fmt.Sprintf("hook %q failed in phase %s", hookID, phase)
	return &HookFailedError{
		CoreError: newCore(KindTransactional, "HOOK_FAILED", msg, cause),
		HookID:    hookID,
		Phase:     phase,
	}
}

// CronNoFutureMatchError indicates a cron expression admits no legal
// firing time within the search cap, which is a configuration bug.
type CronNoFutureMatchError struct {
	*CoreError
	Expression string
}

func NewCronNoFutureMatch(expression string) *CronNoFutureMatchError {
	msg := fmt.Sprintf("no future match for cron expression %q within search cap", expression)
	return &CronNoFutureMatchError{
		CoreError:  newCore(KindScheduling, "CRON_NO_FUTURE_MATCH", msg, nil),
		Expression: expression,
	}
}

// OverlapSkippedError records a scheduled run skipped because the
// previous run for the same handle was still active.
type OverlapSkippedError struct {
	*CoreError
	TaskName string
}

func NewOverlapSkipped(taskName string) *OverlapSkippedError {
	msg := fmt.Sprintf("run skipped for task %q: previous run still active", taskName)
	return &OverlapSkippedError{
		CoreError: newCore(KindScheduling, "OVERLAP_SKIPPED", msg, nil),
		TaskName:  taskName,
	}
}

// ConfigurationError covers bad scan roots, invalid cron expressions, and
// bad config values.
type ConfigurationError struct {
	*CoreError
}

func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{CoreError: newCore(KindConfiguration, "CONFIGURATION", message, cause)}
}

// LifecyclePhaseError tags a bootstrap phase failure with the phase name.
type LifecyclePhaseError struct {
	*CoreError
	Phase string
}

func NewLifecyclePhaseError(phase, message string, cause error) *LifecyclePhaseError {
	return &LifecyclePhaseError{
		CoreError: newCore(KindLifecycle, "PHASE_FAILURE", fmt.Sprintf("phase %s: %s", phase, message), cause),
		Phase:     phase,
	}
}

// TransportError covers publish/serialize/unknown-type/broker-unreachable
// failures from the external event transport bridge.
type TransportError struct {
	*CoreError
}

func NewTransportError(code, message string, cause error) *TransportError {
	return &TransportError{CoreError: newCore(KindTransport, code, message, cause)}
}
