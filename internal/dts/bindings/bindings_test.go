package bindings

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/dts"
	"github.com/robert-at-pretension-io/kconfig-dts/internal/vfs"
)

var bindingFiles = map[string]string{
	"base.yaml": `description: common properties
properties:
  status:
    type: string
  wakeup-delay:
    type: int
    description: wakeup delay in ms
`,
	"gpio-controller.yaml": `properties:
  gpio-controller:
    type: boolean
    required: true
  "#gpio-cells":
    type: int
    required: true
gpio-cells:
  - pin
  - flags
`,
	"gpio/vendor-gpio.yaml": `description: Vendor GPIO controller

compatible: "vendor,gpio"

include: [base.yaml, gpio-controller.yaml]

properties:
  reg:
    required: true
  ngpios:
    type: int
    default: 32
`,
	"leds.yaml": `description: GPIO LEDs
compatible: "gpio-leds"
child-binding:
  description: one LED
  properties:
    gpios:
      type: phandle-array
      required: true
    label:
      type: string
`,
	"led-base.yaml": `description: LED controller base
properties:
  max-brightness:
    type: int
child-binding:
  description: LED base
  properties:
    led-pattern:
      type: array
`,
	"pwm-leds.yaml": `compatible: "pwm-leds"
child-binding:
  description: one PWM LED
  include: led-base.yaml
  properties:
    pwms:
      type: phandle-array
`,
	"i2c/vendor-i2c.yaml": `compatible: "vendor,i2c"
bus: i2c
include:
  - name: base.yaml
    property-blocklist:
      - wakeup-delay
properties:
  clock-frequency:
    type: int
    enum: [100000, 400000]
`,
	"spi/vendor-spi.yaml": `compatible: "vendor,spi"
bus: [spi]
`,
	"sensor-i2c.yaml": `compatible: "vendor,sensor"
on-bus: i2c
include: base.yaml
properties:
  irq-gpios:
    type: phandle-array
`,
	"sensor-spi.yaml": `compatible: "vendor,sensor"
on-bus: spi
properties:
  spi-max-frequency:
    type: int
    required: true
`,
	"cycle-a.yaml": `compatible: "cycle,a"
include: cycle-b.yaml
`,
	"cycle-b.yaml": `include: cycle-a.yaml
`,
	"bad.yaml": `compatible: "vendor,bad"
properties:
  speed:
    type: float
`,
	"missing.yaml": `compatible: "vendor,missing"
include: nowhere.yaml
`,
	"notes.txt": `compatible: "not,a-binding"
`,
}

const boardText = `/dts-v1/;

/ {
	#address-cells = <1>;
	#size-cells = <1>;

	soc {
		#address-cells = <1>;
		#size-cells = <1>;

		gpio0: gpio@1000 {
			compatible = "vendor,gpio";
			reg = <0x1000 0x100>;
			gpio-controller;
			#gpio-cells = <2>;
			wakeup-delay = "slow";
		};

		i2c@2000 {
			compatible = "vendor,i2c";
			reg = <0x2000 0x100>;
			clock-frequency = <123>;
			wakeup-delay = "ignored";
			#address-cells = <1>;
			#size-cells = <0>;

			sensor@40 {
				compatible = "vendor,sensor";
				reg = <0x40>;
			};
		};

		spi@3000 {
			compatible = "vendor,spi";
			reg = <0x3000 0x100>;
			#address-cells = <1>;
			#size-cells = <0>;

			sensor@0 {
				compatible = "vendor,sensor";
				reg = <0>;
			};
		};

		mystery@4000 {
			compatible = "acme,mystery";
		};

		other@5000 {
			compatible = "acme,other";
			status = "disabled";
		};
	};

	leds {
		compatible = "gpio-leds";

		led_0 {
			gpios = <&gpio0 3 0>;
		};

		led_1 {
			label = "second";
		};
	};
};
`

func writeBindings(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range bindingFiles {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func newLoader(t *testing.T) (*TypeLoader, string) {
	t.Helper()
	dir := writeBindings(t)
	l, err := NewTypeLoader()
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background(), dir))
	return l, dir
}

func newBoard(t *testing.T, l *TypeLoader) *dts.DTSCtx {
	t.Helper()
	c := dts.NewContext(dts.Options{Reader: vfs.Memory{"/ws/board.dts": boardText}})
	c.SetBoard("/ws/board.dts")
	c.Types = l
	require.NoError(t, c.Reparse(context.Background()))
	return c
}

func TestLoadIndexesCompatibles(t *testing.T) {
	l, _ := newLoader(t)
	assert.Equal(t, []string{
		"cycle,a", "gpio-leds", "pwm-leds", "vendor,bad", "vendor,gpio", "vendor,i2c",
		"vendor,missing", "vendor,sensor", "vendor,spi",
	}, l.Compatibles())
	assert.True(t, l.HasCompatible("vendor,gpio"))
	assert.False(t, l.HasCompatible("not,a-binding"))
	// Nothing is decoded until a type is requested.
	assert.Empty(t, l.Diagnostics())
}

func TestIncludeComposition(t *testing.T) {
	l, dir := newLoader(t)
	typ := l.Type("vendor,gpio", nil)
	require.NotNil(t, typ)

	assert.Equal(t, filepath.Join(dir, "gpio/vendor-gpio.yaml"), typ.File)
	assert.Equal(t, 3, typ.Line)
	assert.Equal(t, "Vendor GPIO controller", typ.Description)
	assert.True(t, typ.Valid)
	assert.Equal(t, []string{"#gpio-cells", "gpio-controller", "reg"}, typ.Required())
	assert.Equal(t, []string{"pin", "flags"}, typ.Cells["gpio"])

	// Standard properties keep their type when a binding only adds fields.
	reg := typ.Property("reg")
	require.NotNil(t, reg)
	assert.Equal(t, dts.TypeArray, reg.Type)
	assert.True(t, reg.Required)

	delay := typ.Property("wakeup-delay")
	require.NotNil(t, delay)
	assert.Equal(t, dts.TypeInt, delay.Type)
	assert.Equal(t, "wakeup delay in ms", delay.Description)

	ngpios := typ.Property("ngpios")
	require.NotNil(t, ngpios)
	assert.Equal(t, 32, ngpios.Default)
	assert.Equal(t, filepath.Join(dir, "gpio/vendor-gpio.yaml"), ngpios.Loc.URI)
	assert.Equal(t, 10, ngpios.Loc.Range.Start.Line)

	// Standard properties are there even when nothing mentions them.
	assert.NotNil(t, typ.Property("interrupts"))
	assert.Same(t, typ, l.Type("vendor,gpio", nil))
}

func TestChildBindingIncludeUsesChildType(t *testing.T) {
	l, _ := newLoader(t)
	typ := l.Type("pwm-leds", nil)
	require.NotNil(t, typ)
	require.NotNil(t, typ.Child)

	child := typ.Child
	assert.Equal(t, "one PWM LED", child.Description)
	assert.NotNil(t, child.Property("led-pattern"))
	assert.NotNil(t, child.Property("pwms"))
	assert.Nil(t, child.Property("max-brightness"))
	assert.Nil(t, child.Child)
	assert.Nil(t, typ.Property("led-pattern"))
}

func TestIncludeFilter(t *testing.T) {
	l, _ := newLoader(t)
	typ := l.Type("vendor,i2c", nil)
	require.NotNil(t, typ)
	assert.Nil(t, typ.Property("wakeup-delay"))
	assert.NotNil(t, typ.Property("status"))
	assert.Equal(t, []string{"i2c"}, typ.Buses)
	assert.Equal(t, []any{100000, 400000}, typ.Property("clock-frequency").Enum)
}

func TestBusDisambiguation(t *testing.T) {
	l, _ := newLoader(t)
	c := newBoard(t, l)

	onI2C := l.NodeType(c.Node("/soc/i2c@2000/sensor@40"))
	assert.Equal(t, "i2c", onI2C.OnBus)
	assert.NotNil(t, onI2C.Property("irq-gpios"))

	onSPI := l.NodeType(c.Node("/soc/spi@3000/sensor@0"))
	assert.Equal(t, "spi", onSPI.OnBus)
	assert.Equal(t, []string{"spi-max-frequency"}, onSPI.Required())
}

func TestNodeTypeFallbacks(t *testing.T) {
	l, _ := newLoader(t)
	c := newBoard(t, l)

	leds := l.NodeType(c.Node("/leds"))
	require.NotNil(t, leds.Child)

	led := l.NodeType(c.Node("/leds/led_0"))
	assert.Same(t, leds.Child, led)
	assert.Equal(t, "one LED", led.Description)
	assert.Equal(t, []string{"gpios"}, led.Required())

	assert.Same(t, pathTypes["/"], l.NodeType(c.Root()))
	assert.False(t, l.NodeType(c.Node("/soc")).Valid)
	assert.False(t, l.NodeType(c.Node("/soc/mystery@4000")).Valid)
	assert.False(t, l.NodeType(nil).Valid)
}

func TestCellNamesFromBindings(t *testing.T) {
	l, _ := newLoader(t)
	c := newBoard(t, l)

	gpios := c.Node("/leds/led_0").Property("gpios")
	require.NotNil(t, gpios)
	assert.Equal(t, [][]string{{"pin", "flags"}}, gpios.CellNames(c))
	assert.Nil(t, l.CellNames(c.Node("/soc"), "gpio"))
}

func TestCheck(t *testing.T) {
	l, _ := newLoader(t)
	c := newBoard(t, l)
	require.NoError(t, l.Preload(context.Background()))

	got := Check(c, l)
	line := func(substr string) int {
		for i, s := range strings.Split(boardText, "\n") {
			if strings.Contains(s, substr) {
				return i
			}
		}
		t.Fatalf("%q not in board", substr)
		return -1
	}
	find := func(code string, ln int) *diag.Diagnostic {
		for i := range got {
			if got[i].Code == code && got[i].Range.Start.Line == ln {
				return &got[i]
			}
		}
		return nil
	}

	if d := find(CodePropertyType, line(`wakeup-delay = "slow"`)); assert.NotNil(t, d, "%v", got) {
		assert.Equal(t, diag.SeverityWarning, d.Severity)
		assert.Contains(t, d.Message, "should be int")
	}
	assert.Nil(t, find(CodePropertyType, line(`wakeup-delay = "ignored"`)))
	assert.NotNil(t, find(CodePropertyEnum, line("clock-frequency = <123>")), "%v", got)
	assert.NotNil(t, find(CodeMissingProperty, line("sensor@0 {")), "%v", got)
	assert.NotNil(t, find(CodeMissingProperty, line("led_1 {")), "%v", got)
	assert.Nil(t, find(CodeMissingProperty, line("led_0 {")))
	assert.NotNil(t, find(CodeUnknownCompatible, line(`"acme,mystery"`)), "%v", got)
	assert.Nil(t, find(CodeUnknownCompatible, line(`"acme,other"`)))

	codes := map[string]int{}
	for _, d := range got {
		codes[d.Code]++
	}
	assert.Equal(t, map[string]int{
		CodePropertyType:      1,
		CodePropertyEnum:      1,
		CodeMissingProperty:   2,
		CodeUnknownCompatible: 1,
	}, codes)
}

func TestLoaderDiagnostics(t *testing.T) {
	l, dir := newLoader(t)
	require.NoError(t, l.Preload(context.Background()))

	bad := l.Type("vendor,bad", nil)
	require.NotNil(t, bad)
	assert.Equal(t, dts.ValueType(""), bad.Property("speed").Type)
	assert.NotNil(t, l.Type("cycle,a", nil))

	byCode := map[string]diag.Diagnostic{}
	for _, d := range l.Diagnostics() {
		byCode[d.Code] = d
	}
	require.Contains(t, byCode, CodeSchema)
	assert.Equal(t, filepath.Join(dir, "bad.yaml"), byCode[CodeSchema].URI)
	require.Contains(t, byCode, CodeInclude)
	assert.Equal(t, filepath.Join(dir, "missing.yaml"), byCode[CodeInclude].URI)
	assert.Equal(t, 1, byCode[CodeInclude].Range.Start.Line)
	require.Contains(t, byCode, CodeIncludeCycle)
	assert.Equal(t, filepath.Join(dir, "cycle-b.yaml"), byCode[CodeIncludeCycle].URI)
}

func TestMalformedYAML(t *testing.T) {
	l, dir := newLoader(t)
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compatible: \"vendor,broken\"\nproperties: [\n"), 0o644))

	assert.Nil(t, l.compose(path, nil))
	diags := l.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, CodeYAML, diags[0].Code)
	assert.Equal(t, path, diags[0].URI)
}

func TestDecodeIsShared(t *testing.T) {
	single, dir := newLoader(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NotNil(t, single.doc(path))
	want := len(single.Diagnostics())
	require.NotZero(t, want)

	l, err := NewTypeLoader()
	require.NoError(t, err)
	require.NoError(t, l.Load(context.Background(), dir))
	done := make(chan *bindingDoc, 8)
	for range cap(done) {
		go func() { done <- l.doc(path) }()
	}
	first := <-done
	for range cap(done) - 1 {
		assert.Same(t, first, <-done)
	}
	// Schema problems are reported once however many callers raced.
	assert.Len(t, l.Diagnostics(), want)
}
