package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core/account"
)

type accountApi struct {
	prov *account.Provisioner
}

func registerAccountAPI(g *echo.Group, prov *account.Provisioner) {
	api := accountApi{prov: prov}

	ag := g.Group("/accounts")
	ag.POST("/students", api.createStudent)
	ag.POST("/teachers", api.createTeacher)
}

// newAccountPayload is the JSON body shared by both account endpoints.
type newAccountPayload struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Department       string `json:"department"`
	Phone            string `json:"phone"`
	Photo            []byte `json:"photo"` // base64
	PhotoContentType string `json:"photo_content_type"`
	TempPassword     string `json:"temp_password"`
	AdminPassword    string `json:"admin_password"`
}

func (p newAccountPayload) fields() account.AccountFields {
	flds := account.AccountFields{
		Name:          p.Name,
		Email:         p.Email,
		Department:    p.Department,
		Phone:         p.Phone,
		TempPassword:  p.TempPassword,
		AdminPassword: p.AdminPassword,
	}
	if len(p.Photo) > 0 {
		flds.Photo = &account.Photo{Data: p.Photo, ContentType: p.PhotoContentType}
	}
	return flds
}

type newStudentPayload struct {
	newAccountPayload
	EnrollmentYear int `json:"enrollment_year"`
}

type newTeacherPayload struct {
	newAccountPayload
	TeacherCode string `json:"teacher_code"`
}

// Handlers

func (api *accountApi) createStudent(ctx echo.Context) error {
	var data newStudentPayload
	if err := ctx.Bind(&data); err != nil {
		return err
	}
	return api.provision(ctx, account.StudentRequest{
		AccountFields:  data.fields(),
		EnrollmentYear: data.EnrollmentYear,
	})
}

func (api *accountApi) createTeacher(ctx echo.Context) error {
	var data newTeacherPayload
	if err := ctx.Bind(&data); err != nil {
		return err
	}
	return api.provision(ctx, account.TeacherRequest{
		AccountFields: data.fields(),
		TeacherCode:   data.TeacherCode,
	})
}

func (api *accountApi) provision(ctx echo.Context, req account.Request) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	res, err := api.prov.Provision(ctx.Request().Context(), sess, req)
	if err != nil {
		return errors.Wrap(err, "provisioning account")
	}
	return ctx.JSON(http.StatusCreated, res)
}
