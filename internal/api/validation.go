package api

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/dreamware/usercluster/internal/storage"
)

type validation struct {
	Tag  string
	Func validator.Func
}

var rules = []validation{
	{Tag: "notblank", Func: validators.NotBlank},
	{
		// integral accepts numbers without a fractional part, e.g. 30 or 30.0
		Tag: "integral",
		Func: func(fl validator.FieldLevel) bool {
			v := fl.Field().Float()
			return v == math.Trunc(v)
		},
	},
}

func newValidator() *validator.Validate {
	validate := validator.New()
	for _, rule := range rules {
		if err := validate.RegisterValidation(rule.Tag, rule.Func); err != nil {
			panic(err)
		}
	}

	// Use JSON field names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return validate
}

// createUserRequest is the body of POST /api/users.
// Age is decoded as a float so that 30.0 is accepted like 30; the upper
// bound is the largest integer a JSON number holds exactly.
type createUserRequest struct {
	Username *string   `json:"username" validate:"required,notblank"`
	Age      *float64  `json:"age" validate:"required,gte=0,lte=9007199254740991,integral"`
	Hobbies  []*string `json:"hobbies" validate:"required,dive,required"`
}

// updateUserRequest is the body of PUT /api/users/{userId}.
// Every field is optional, but a present field must not be null.
type updateUserRequest struct {
	Username *string   `json:"username"`
	Age      *float64  `json:"age" validate:"omitnil,gte=0,lte=9007199254740991,integral"`
	Hobbies  []*string `json:"hobbies" validate:"omitempty,dive,required"`
}

var updatableFields = []string{"username", "age", "hobbies"}

func parseCreateUser(validate *validator.Validate, body []byte) (storage.User, error) {
	var req createUserRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return storage.User{}, err
	}
	if err := validate.Struct(req); err != nil {
		return storage.User{}, err
	}
	return storage.User{
		Username: *req.Username,
		Age:      int(*req.Age),
		Hobbies:  hobbies(req.Hobbies),
	}, nil
}

// parseUpdateUser accepts any non-empty object whose known fields are well
// typed. Unknown fields, including "id", are ignored.
func parseUpdateUser(validate *validator.Validate, body []byte) (storage.UserPatch, error) {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return storage.UserPatch{}, err
	}
	if len(fields) == 0 {
		return storage.UserPatch{}, fmt.Errorf("no fields to update")
	}
	for _, name := range updatableFields {
		if v, ok := fields[name]; ok && v == nil {
			return storage.UserPatch{}, fmt.Errorf("field %q must not be null", name)
		}
	}

	var req updateUserRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return storage.UserPatch{}, err
	}
	if err := validate.Struct(req); err != nil {
		return storage.UserPatch{}, err
	}

	patch := storage.UserPatch{Username: req.Username}
	if req.Hobbies != nil {
		h := hobbies(req.Hobbies)
		patch.Hobbies = &h
	}
	if req.Age != nil {
		age := int(*req.Age)
		patch.Age = &age
	}
	return patch, nil
}

// hobbies copies validated hobby entries; every element is known to be non-nil.
func hobbies(in []*string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		out = append(out, *h)
	}
	return out
}
