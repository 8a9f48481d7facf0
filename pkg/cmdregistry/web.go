package cmdregistry

// web commands drive a browser-automation session against a host_vnc-style
// device model.

type webCommand struct {
	name          string
	category      string
	description   string
	schema        Schema
	requiresInput bool
}

func (c webCommand) Name() string        { return c.name }
func (c webCommand) Kind() Kind          { return KindWeb }
func (c webCommand) Category() string    { return c.category }
func (c webCommand) Description() string { return c.description }
func (c webCommand) Schema() Schema      { return c.schema }
func (c webCommand) RequiresInput() bool { return c.requiresInput }

func (c webCommand) Validate(params map[string]any) error {
	for _, name := range c.schema.Required {
		if err := requireParam(params, name); err != nil {
			return err
		}
	}
	if c.requiresInput {
		if _, ok := params["inputValue"]; !ok {
			return requireParam(params, "inputValue")
		}
	}
	return nil
}

func init() {
	RegisterHandler(webCommand{
		name:        "click_element",
		category:    "interaction",
		description: "clicks a web element by selector",
		schema:      Schema{Required: []string{"id"}},
	})
	RegisterHandler(webCommand{
		name:        "waitForElementToAppear",
		category:    "verification",
		description: "waits for a web element to appear in the DOM",
		schema:      Schema{Required: []string{"search_term"}},
	})
	RegisterHandler(webCommand{
		name:          "type_text",
		category:      "input",
		description:   "types into the focused web element",
		requiresInput: true,
	})
}
