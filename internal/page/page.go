// Package page renders the static submission page.
package page

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

const (
	// Title is the page title.
	Title = "A Generic POST -> CSV handler"
	// Prompt tells the caller how to use the handler.
	Prompt = "Submit a POST request to log the request."
	// Confirmation is the heading emitted ahead of the page after a line is logged.
	Confirmation = "Submitted"
)

// Confirmed renders the confirmation heading.
func Confirmed() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<h2>"+templ.EscapeString(Confirmation)+"</h2>\n")
		return err
	})
}

// Form renders the page whose form posts back to action.
func Form(action string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!doctype html>\n"+
			"<html>\n"+
			"  <head>\n"+
			"    <title>"+templ.EscapeString(Title)+"</title>\n"+
			"  </head>\n"+
			"  <body>\n"+
			"    <h2>"+templ.EscapeString(Prompt)+"</h2>\n"+
			"    <form action=\""+templ.EscapeString(action)+"\" method=\"POST\"></form>\n"+
			"  </body>\n"+
			"</html>\n")
		return err
	})
}

// Page renders the full response: the confirmation heading when submitted,
// then the form page.
func Page(action string, submitted bool) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if submitted {
			if err := Confirmed().Render(ctx, w); err != nil {
				return err
			}
		}
		return Form(action).Render(ctx, w)
	})
}
