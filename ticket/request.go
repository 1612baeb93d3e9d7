package ticket

// CreateRequest is the body of POST /tickets.
type CreateRequest struct {
	Title       string   `json:"title" validate:"required,min=1,max=200"`
	Description string   `json:"description" validate:"required,min=1,max=2000"`
	User        string   `json:"user" validate:"required,min=1,max=100"`
	Priority    Priority `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
}

// UpdateRequest is the body of PUT /tickets/{id}. Nil fields are left unchanged.
type UpdateRequest struct {
	Title       *string   `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string   `json:"description,omitempty" validate:"omitempty,min=1,max=2000"`
	User        *string   `json:"user,omitempty" validate:"omitempty,min=1,max=100"`
	Status      *Status   `json:"status,omitempty" validate:"omitempty,oneof=OPEN IN_PROGRESS RESOLVED CLOSED"`
	Priority    *Priority `json:"priority,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
}

// Empty reports whether the update changes nothing.
func (u UpdateRequest) Empty() bool {
	return u.Title == nil && u.Description == nil && u.User == nil && u.Status == nil && u.Priority == nil
}

// CommentRequest is the body of POST /tickets/{id}/comments.
type CommentRequest struct {
	Content string `json:"content" validate:"required,min=1,max=1000"`
	Author  string `json:"author" validate:"required,min=1,max=100"`
}

// Ptr returns a pointer to v. Handy for building UpdateRequest literals.
func Ptr[T any](v T) *T { return &v }
