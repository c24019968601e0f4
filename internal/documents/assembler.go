package documents

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"

	"gorm.io/gorm"

	"github.com/appealpost/appealpost-backend/pkg/db/models"
	pkgerrors "github.com/appealpost/appealpost-backend/pkg/errors"
)

// Document is an assembled, print-ready appeal letter. The checksum pins the
// exact rendering that was (or will be) dispatched.
type Document struct {
	Ref      string
	HTML     string
	Checksum string
}

// Assembler renders appeal drafts into the letter HTML handed to dispatch.
// Rendering is deterministic per order, so re-running a step yields the same
// checksum.
type Assembler struct {
	drafts Repository
}

// NewAssembler builds the document assembler.
func NewAssembler(drafts Repository) (*Assembler, error) {
	if drafts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "draft repository required")
	}
	return &Assembler{drafts: drafts}, nil
}

var letterTemplate = template.Must(template.New("appeal-letter").Parse(`<html>
<head><meta charset="utf-8"><style>
body { font-family: Georgia, serif; font-size: 12pt; margin: 1in; }
.heading { margin-bottom: 24px; }
.citation { font-weight: bold; }
</style></head>
<body>
<div class="heading">
<p>{{.Agency}}</p>
<p>Re: Appeal of Citation <span class="citation">{{.CitationNumber}}</span></p>
<p>Date of submission: {{.SubmittedOn}}</p>
</div>
<p>To whom it may concern,</p>
<div>{{.Body}}</div>
<p>Respectfully,</p>
<p>{{.AppellantName}}</p>
<p>Reference: {{.OrderRef}}</p>
</body>
</html>
`))

type letterData struct {
	Agency         string
	CitationNumber string
	SubmittedOn    string
	Body           string
	AppellantName  string
	OrderRef       string
}

// Assemble loads the order's draft and renders the mail-ready document.
func (a *Assembler) Assemble(ctx context.Context, order *models.Order) (*Document, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}

	draft, err := a.drafts.FindByID(ctx, order.DraftID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "draft not found for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load draft")
	}

	data := letterData{
		Agency:         draft.IssuingAgency,
		CitationNumber: draft.CitationNumber,
		SubmittedOn:    order.CreatedAt.UTC().Format("January 2, 2006"),
		Body:           draft.Body,
		AppellantName:  draft.AppellantName,
		OrderRef:       order.ID.String(),
	}

	var buf bytes.Buffer
	if err := letterTemplate.Execute(&buf, data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render appeal letter")
	}

	html := buf.String()
	sum := sha256.Sum256([]byte(html))

	return &Document{
		Ref:      fmt.Sprintf("appeal-%s", order.ID),
		HTML:     html,
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}
