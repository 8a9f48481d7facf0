package cmdregistry

// ir commands drive a direct infrared blaster, bypassing remote pairing.

type irCommand struct {
	name        string
	category    string
	description string
	schema      Schema
}

func (c irCommand) Name() string        { return c.name }
func (c irCommand) Kind() Kind          { return KindIR }
func (c irCommand) Category() string    { return c.category }
func (c irCommand) Description() string { return c.description }
func (c irCommand) Schema() Schema      { return c.schema }
func (c irCommand) RequiresInput() bool { return false }

func (c irCommand) Validate(params map[string]any) error {
	for _, name := range c.schema.Required {
		if err := requireParam(params, name); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	RegisterHandler(irCommand{
		name:        "ir_pulse",
		category:    "navigation",
		description: "emits a raw IR pulse code",
		schema:      Schema{Required: []string{"code"}},
	})
}
