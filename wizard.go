package connect

import (
	"context"
	"slices"
	"sync"
	"unicode/utf8"
)

// Step identifies a wizard page
type Step int

const (
	StepProfile Step = 1
	StepAddress Step = 2
	StepConfirm Step = 3
)

// WizardState is the persisted progress of a registration
type WizardState struct {
	CurrentStep         Step   `json:"currentStep"`
	FormSubmitted       bool   `json:"formSubmitted"`
	OtpSent             bool   `json:"otpSent"`
	OtpVerified         bool   `json:"otpVerified"`
	SubmissionTimestamp *int64 `json:"submissionTimestamp"`
}

// NewWizardState returns the state of a first visit
func NewWizardState() WizardState {
	return WizardState{CurrentStep: StepProfile}
}

// Normalize clamps the step and enforces that OTP flags imply a submission
func (s *WizardState) Normalize() {
	if s.CurrentStep < StepProfile {
		s.CurrentStep = StepProfile
	}
	if s.CurrentStep > StepConfirm {
		s.CurrentStep = StepConfirm
	}
	if !s.FormSubmitted {
		s.OtpSent = false
		s.OtpVerified = false
	}
}

// ViewState holds what the page needs between requests besides the record
type ViewState struct {
	Touched         []string      `json:"touched,omitempty"`
	SubmitAttempted bool          `json:"submitAttempted,omitempty"`
	MobileStatus    MobileStatus  `json:"mobileStatus,omitempty"`
	PincodeMessage  string        `json:"pincodeMessage,omitempty"`
	Areas           []string      `json:"areas,omitempty"`
	Location        *LocationData `json:"location,omitempty"`
	// Seq is the highest client sequence number applied to the record
	Seq int64 `json:"seq,omitempty"`
}

func (v ViewState) clone() ViewState {
	out := v
	out.Touched = slices.Clone(v.Touched)
	out.Areas = slices.Clone(v.Areas)
	if v.Location != nil {
		loc := *v.Location
		out.Location = &loc
	}
	return out
}

// WizardSnapshot is a consistent read of the wizard for rendering
type WizardSnapshot struct {
	Record       FormRecord   `json:"data"`
	State        WizardState  `json:"formState"`
	Errors       FieldErrors  `json:"errors"`
	StepValid    bool         `json:"stepValid"`
	MobileStatus MobileStatus `json:"mobileStatus,omitempty"`
	Areas        []string     `json:"areas"`
	HasLocation  bool         `json:"hasLocation"`
}

// WizardOption customizes the wizard
type WizardOption func(*Wizard)

// WithMobileChecker sets the collaborator used for the mobile existence check
func WithMobileChecker(c MobileChecker) WizardOption {
	return func(w *Wizard) {
		w.mobile = c
	}
}

// WithPostalLookup sets the collaborator used for pin code lookups
func WithPostalLookup(p PostalLookup) WizardOption {
	return func(w *Wizard) {
		w.postal = p
	}
}

// WithWizardLogger overrides the logger
func WithWizardLogger(logger Logger) WizardOption {
	return func(w *Wizard) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Wizard is the three step registration form. It is safe for concurrent use;
// overlapping lookups for one field only apply the most recently issued one.
type Wizard struct {
	mu          sync.Mutex
	record      FormRecord
	state       WizardState
	view        ViewState
	generations map[string]uint64
	mobile      MobileChecker
	postal      PostalLookup
	logger      Logger
}

// NewWizard restores a wizard from env, or starts fresh when env is nil
func NewWizard(env *PersistedEnvelope, opts ...WizardOption) *Wizard {
	w := &Wizard{
		record:      NewFormRecord(),
		state:       NewWizardState(),
		generations: map[string]uint64{},
		logger:      defLogger{},
	}

	if env != nil {
		w.record = env.Data
		w.record.Normalize()
		w.state = env.FormState
		w.state.Normalize()
		w.view = env.View.clone()
	}

	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	return w
}

// Edit assigns a field, marks it touched and runs the lookup tied to it
func (w *Wizard) Edit(ctx context.Context, field, value string) error {
	w.mu.Lock()

	if err := w.editable(field); err != nil {
		w.mu.Unlock()
		return err
	}

	value = constrainInput(field, value)
	previousPin := w.record.PinCode

	if field == FieldArea && value != "" && len(w.view.Areas) > 0 && !slices.Contains(w.view.Areas, value) {
		w.mu.Unlock()
		return ErrAreaNotListed
	}

	if err := w.record.Set(field, value); err != nil {
		w.mu.Unlock()
		return err
	}
	w.touch(field)

	switch field {
	case FieldMobileNo:
		gen := w.issue(FieldMobileNo)
		w.view.MobileStatus = MobileUnchecked
		if w.mobile == nil || !IsValidMobile(value) {
			w.mu.Unlock()
			return nil
		}
		w.mu.Unlock()

		check, err := w.mobile.CheckMobile(ctx, value)
		w.ApplyMobileCheck(gen, value, check, err)
		return nil

	case FieldPinCode:
		if value != previousPin {
			w.record.ClearDerivedAddress()
			w.view.Areas = nil
			w.view.PincodeMessage = ""
		}
		gen := w.issue(FieldPinCode)
		if w.postal == nil || !IsValidPinCode(value) {
			w.mu.Unlock()
			return nil
		}
		w.mu.Unlock()

		res, err := w.postal.LookupPincode(ctx, value)
		w.ApplyPostal(gen, value, res, err)
		return nil

	case FieldCustomerType:
		if value == CustomerTypeExisting {
			w.record.Normalize()
		}
	}

	w.mu.Unlock()
	return nil
}

// ToggleFlag flips a customer type checkbox
func (w *Wizard) ToggleFlag(field string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.FormSubmitted {
		return ErrFormLocked
	}
	if err := w.record.ToggleFlag(field); err != nil {
		return err
	}
	w.touch(field)
	return nil
}

// AcceptSequence orders edits sent by one browser. seq must be greater than
// every sequence already applied; zero means the client does not number its edits.
func (w *Wizard) AcceptSequence(seq int64) error {
	if seq <= 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq <= w.view.Seq {
		w.logger.Debug("dropping stale edit %d, already at %d", seq, w.view.Seq)
		return ErrStaleEdit
	}
	w.view.Seq = seq
	return nil
}

// BeginLookup invalidates any in flight lookup for field and returns the new generation
func (w *Wizard) BeginLookup(field string) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.issue(field)
}

// ApplyMobileCheck stores the result of a mobile lookup if it is still the latest one
func (w *Wizard) ApplyMobileCheck(gen uint64, mobile string, check MobileCheck, err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.current(FieldMobileNo, gen) || w.record.MobileNo != mobile {
		w.logger.Debug("dropping stale mobile check for %s", mobile)
		return false
	}

	if err != nil {
		w.logger.Error("mobile check failed: %v", err)
		w.view.MobileStatus = MobileCheckFailed
		return true
	}

	w.view.MobileStatus = ClassifyMobile(check)
	return true
}

// ApplyPostal stores the result of a pin code lookup if it is still the latest one
func (w *Wizard) ApplyPostal(gen uint64, code string, res PostalResult, err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.current(FieldPinCode, gen) || w.record.PinCode != code {
		w.logger.Debug("dropping stale pincode lookup for %s", code)
		return false
	}

	switch {
	case err != nil:
		w.logger.Error("pincode lookup failed: %v", err)
		w.record.ClearDerivedAddress()
		w.view.Areas = nil
		w.view.PincodeMessage = MsgPincodeFailed
	case !res.Found:
		w.record.ClearDerivedAddress()
		w.view.Areas = nil
		w.view.PincodeMessage = MsgInvalidPincode
	default:
		w.record.City = res.City
		w.record.State = res.State
		w.record.Taluk = res.Taluk
		w.view.Areas = slices.Clone(res.Areas)
		w.view.PincodeMessage = ""
	}
	return true
}

// Blur marks a field touched so its errors become visible
func (w *Wizard) Blur(field string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.record.Get(field); !ok {
		return ErrUnknownField
	}
	w.touch(field)
	return nil
}

// SetLocation records the visitor location required for submission
func (w *Wizard) SetLocation(loc LocationData) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.view.Location = &loc
}

// Location returns the captured location, if any
func (w *Wizard) Location() (LocationData, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.view.Location == nil {
		return LocationData{}, false
	}
	return *w.view.Location, true
}

// Next advances one step when the current one validates
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state.FormSubmitted {
		return ErrInvalidStepTransition
	}
	if w.state.CurrentStep >= StepConfirm {
		return ErrInvalidStepTransition
	}
	if !w.stepValid(w.state.CurrentStep) {
		w.touch(stepFields(w.state.CurrentStep)...)
		return ErrStepInvalid
	}
	w.state.CurrentStep++
	return nil
}

// Previous goes back one step
func (w *Wizard) Previous() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state.FormSubmitted || w.state.CurrentStep <= StepProfile {
		return ErrInvalidStepTransition
	}
	w.state.CurrentStep--
	return nil
}

// MarkSubmitAttempt makes every field error visible
func (w *Wizard) MarkSubmitAttempt() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.view.SubmitAttempted = true
}

// StepValid reports whether step passes its validator
func (w *Wizard) StepValid(step Step) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stepValid(step)
}

// VisibleErrors returns errors for touched fields, or all of them after a submit attempt
func (w *Wizard) VisibleErrors() FieldErrors {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visibleErrors()
}

// Snapshot returns a copy of everything needed to render the wizard
func (w *Wizard) Snapshot() WizardSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WizardSnapshot{
		Record:       w.record,
		State:        w.state,
		Errors:       w.visibleErrors(),
		StepValid:    w.stepValid(w.state.CurrentStep),
		MobileStatus: w.view.MobileStatus,
		Areas:        slices.Clone(w.view.Areas),
		HasLocation:  w.view.Location != nil,
	}
}

// Record returns a copy of the form record
func (w *Wizard) Record() FormRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.record
}

// State returns a copy of the wizard state
func (w *Wizard) State() WizardState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Envelope returns what should be persisted for this wizard
func (w *Wizard) Envelope() PersistedEnvelope {
	w.mu.Lock()
	defer w.mu.Unlock()
	return PersistedEnvelope{
		Data:      w.record,
		FormState: w.state,
		View:      w.view.clone(),
	}
}

// Reset returns the wizard to a first visit
func (w *Wizard) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record = NewFormRecord()
	w.state = NewWizardState()
	w.view = ViewState{}
	for field := range w.generations {
		w.generations[field]++
	}
}

func (w *Wizard) updateState(fn func(*WizardState)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.state)
}

func (w *Wizard) stepValid(step Step) bool {
	switch step {
	case StepProfile:
		return len(w.record.ValidateProfile()) == 0 && !w.view.MobileStatus.Blocking()
	case StepAddress:
		return len(w.record.ValidateAddress()) == 0
	case StepConfirm:
		return len(w.record.ValidateAll()) == 0 && !w.view.MobileStatus.Blocking()
	}
	return false
}

func (w *Wizard) visibleErrors() FieldErrors {
	all := w.record.ValidateAll()

	if msg := w.view.MobileStatus.Message(); msg != "" {
		if _, ok := all[FieldMobileNo]; !ok {
			all[FieldMobileNo] = msg
		}
	}
	if w.view.PincodeMessage != "" {
		if _, ok := all[FieldPinCode]; !ok {
			all[FieldPinCode] = w.view.PincodeMessage
		}
	}

	if w.view.SubmitAttempted {
		return all
	}

	out := FieldErrors{}
	for field, msg := range all {
		if slices.Contains(w.view.Touched, field) {
			out[field] = msg
		}
	}
	return out
}

func (w *Wizard) editable(field string) error {
	if w.state.FormSubmitted {
		return ErrFormLocked
	}
	if slices.Contains(ReadOnlyFields, field) {
		return ErrReadOnlyField
	}
	return nil
}

func (w *Wizard) touch(fields ...string) {
	for _, f := range fields {
		if !slices.Contains(w.view.Touched, f) {
			w.view.Touched = append(w.view.Touched, f)
		}
	}
}

func (w *Wizard) issue(field string) uint64 {
	w.generations[field]++
	return w.generations[field]
}

func (w *Wizard) current(field string, gen uint64) bool {
	return w.generations[field] == gen
}

func stepFields(step Step) []string {
	switch step {
	case StepProfile:
		return ProfileFields
	case StepAddress:
		return AddressFields
	}
	return append(slices.Clone(ProfileFields), AddressFields...)
}

// constrainInput applies the input length limits of the form controls
func constrainInput(field, value string) string {
	limit := 0
	switch field {
	case FieldMobileNo:
		limit = 10
	case FieldPinCode:
		limit = 6
	}
	if limit > 0 && utf8.RuneCountInString(value) > limit {
		return string([]rune(value)[:limit])
	}
	return value
}
