package forms

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSubmission is wrapped by every validation failure.
	ErrInvalidSubmission = errors.New("forms: invalid submission")
	// ErrMissingField indicates that a required form field is blank.
	ErrMissingField = fmt.Errorf("%w: required field is missing", ErrInvalidSubmission)
	// ErrInvalidEmail indicates a malformed email address.
	ErrInvalidEmail = fmt.Errorf("%w: invalid email", ErrInvalidSubmission)
	// ErrFieldTooLong indicates that a field exceeds storage bounds.
	ErrFieldTooLong = fmt.Errorf("%w: field too long", ErrInvalidSubmission)
)

// ContactResponse is a stored contact-page submission.
type ContactResponse struct {
	ID               string `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	Name             string `gorm:"column:name;size:190;not null" json:"name"`
	Email            string `gorm:"column:email;size:190;not null" json:"email"`
	Phone            string `gorm:"column:phone;size:190;not null" json:"phone"`
	Message          string `gorm:"column:message;type:text;not null" json:"message"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index" json:"created_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (ContactResponse) TableName() string {
	return "contact_responses"
}

// DistributorApplication is a stored distributor enquiry.
type DistributorApplication struct {
	ID               string `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	Name             string `gorm:"column:name;size:190;not null" json:"name"`
	FirmName         string `gorm:"column:firm_name;size:190;not null" json:"firm_name"`
	Email            string `gorm:"column:email;size:190;not null" json:"email"`
	Phone            string `gorm:"column:phone;size:190;not null" json:"phone"`
	Capital          string `gorm:"column:capital;size:190;not null" json:"capital"`
	City             string `gorm:"column:city;size:190;not null" json:"city"`
	State            string `gorm:"column:state;size:190;not null" json:"state"`
	Address          string `gorm:"column:address;type:text;not null" json:"address"`
	Message          string `gorm:"column:message;type:text;not null" json:"message"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index" json:"created_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (DistributorApplication) TableName() string {
	return "distributor_applications"
}

// Models lists every table owned by the forms service.
func Models() []any {
	return []any{&ContactResponse{}, &DistributorApplication{}}
}

// ContactSubmission is the raw contact form input. The binding tags are
// enforced by gin when a request is decoded and again by the service after
// trimming.
type ContactSubmission struct {
	Name    string `json:"name" binding:"required,max=190"`
	Email   string `json:"email" binding:"required,email,max=190"`
	Phone   string `json:"phone" binding:"required,max=190"`
	Message string `json:"message" binding:"max=4000"`
}

// DistributorSubmission is the raw distributor form input. The site posts
// investmentCapital and reason; capital and message are accepted as aliases.
type DistributorSubmission struct {
	Name              string `json:"name" binding:"required,max=190"`
	FirmName          string `json:"firmName" binding:"max=190"`
	Email             string `json:"email" binding:"required,email,max=190"`
	Phone             string `json:"phone" binding:"required,max=190"`
	InvestmentCapital string `json:"investmentCapital" binding:"max=190"`
	Capital           string `json:"capital" binding:"max=190"`
	City              string `json:"city" binding:"max=190"`
	State             string `json:"state" binding:"max=190"`
	Address           string `json:"address" binding:"max=4000"`
	Reason            string `json:"reason" binding:"max=4000"`
	Message           string `json:"message" binding:"max=4000"`
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (submission ContactSubmission) normalized() (ContactResponse, error) {
	trimmed := ContactSubmission{
		Name:    strings.TrimSpace(submission.Name),
		Email:   strings.TrimSpace(submission.Email),
		Phone:   strings.TrimSpace(submission.Phone),
		Message: strings.TrimSpace(submission.Message),
	}
	if err := validateSubmission(trimmed); err != nil {
		return ContactResponse{}, err
	}
	return ContactResponse{
		Name:    trimmed.Name,
		Email:   trimmed.Email,
		Phone:   trimmed.Phone,
		Message: trimmed.Message,
	}, nil
}

func (submission DistributorSubmission) normalized() (DistributorApplication, error) {
	trimmed := DistributorSubmission{
		Name:              strings.TrimSpace(submission.Name),
		FirmName:          strings.TrimSpace(submission.FirmName),
		Email:             strings.TrimSpace(submission.Email),
		Phone:             strings.TrimSpace(submission.Phone),
		InvestmentCapital: firstNonBlank(submission.InvestmentCapital, submission.Capital),
		City:              strings.TrimSpace(submission.City),
		State:             strings.TrimSpace(submission.State),
		Address:           strings.TrimSpace(submission.Address),
		Reason:            firstNonBlank(submission.Reason, submission.Message),
	}
	if err := validateSubmission(trimmed); err != nil {
		return DistributorApplication{}, err
	}
	return DistributorApplication{
		Name:     trimmed.Name,
		FirmName: trimmed.FirmName,
		Email:    trimmed.Email,
		Phone:    trimmed.Phone,
		Capital:  trimmed.InvestmentCapital,
		City:     trimmed.City,
		State:    trimmed.State,
		Address:  trimmed.Address,
		Message:  trimmed.Reason,
	}, nil
}
