// Package script turns an approved topic into an executable rendering
// script. Generation is template-only: the sanitized topic is the sole
// external input interpolated into the body, and the finished source is
// re-scanned against the same import allowlist and forbidden-construct
// policy the templates themselves must satisfy.
package script

import (
	"regexp"
	"strings"
	"text/template"

	"rendergate/internal/pkg/errors"
	"rendergate/internal/pkg/logger"
)

// Family identifies the template a topic resolved to.
type Family string

const (
	FamilyPhysicsMotion   Family = "physics_motion"
	FamilyMathEquation    Family = "math_equation"
	FamilyGeometry        Family = "geometry"
	FamilyBiologyProcess  Family = "biology_process"
	FamilyComputerScience Family = "computer_science"
	FamilyGeneral         Family = "general_educational"
)

// SceneName is the fixed class name every template declares. The
// renderer invokes exactly this scene; scripts cannot choose another.
const SceneName = "EducationalVideo"

// Script is the generated rendering program for one request. It is
// owned by the request that produced it and never reused.
type Script struct {
	Family  Family
	Body    string
	Imports []string
}

// allowedImports is the closed set of modules a generated script may
// import: the animation engine and numeric/color helpers, nothing that
// can touch the host.
var allowedImports = map[string]bool{
	"manim":    true,
	"numpy":    true,
	"math":     true,
	"random":   true,
	"colorsys": true,
}

// forbiddenConstructs are scanned against the full generated source,
// not just the topic, so a template bug cannot ship a dangerous script.
var forbiddenConstructs = []*regexp.Regexp{
	regexp.MustCompile(`\b(exec|eval|compile|__import__|getattr|setattr|delattr)\s*\(`),
	regexp.MustCompile(`\b(open|file|input)\s*\(`),
	regexp.MustCompile(`\b(os|sys|subprocess|socket|shutil|pickle)\s*\.`),
	regexp.MustCompile(`\bimport\s+(os|sys|subprocess|socket|requests|urllib|pickle|shutil|ctypes)\b`),
	regexp.MustCompile(`\bfrom\s+(os|sys|subprocess|socket|requests|urllib|pickle|shutil|ctypes)\b`),
	regexp.MustCompile(`__[a-zA-Z]+__`),
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`(?i)https?://|ftp://|file://`),
}

// classification buckets, checked in fixed priority order; the first
// match wins and unmatched topics fall through to the general family.
var familyKeywords = []struct {
	family   Family
	keywords []string
}{
	{FamilyPhysicsMotion, []string{"motion", "wave", "oscillation", "pendulum", "force", "gravity", "momentum", "velocity"}},
	{FamilyMathEquation, []string{"equation", "algebra", "quadratic", "function", "graph", "derivative", "integral", "calculus"}},
	{FamilyGeometry, []string{"geometry", "triangle", "circle", "polygon", "theorem", "angle"}},
	{FamilyBiologyProcess, []string{"cell", "dna", "photosynthesis", "respiration", "molecule", "protein", "enzyme"}},
	{FamilyComputerScience, []string{"algorithm", "sorting", "search", "recursion", "binary", "stack", "queue", "array"}},
}

type Generator struct {
	log *logger.Logger
}

func NewGenerator(log *logger.Logger) *Generator {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Generator{log: log.WithComponent("script")}
}

// Generate produces the rendering script for a sanitized topic. The
// returned script has already passed the allowlist and construct scan;
// a scan failure is a security event, not a user error.
func (g *Generator) Generate(sanitizedTopic string) (*Script, error) {
	title := displayTitle(sanitizedTopic)
	family := Classify(sanitizedTopic)

	body, err := fillTemplate(family, title)
	if err != nil {
		return nil, errors.Wrap(err, "script.generate", "template execution failed")
	}

	imports := scanImports(body)
	if err := checkPolicy(body, imports); err != nil {
		g.log.Error("generated script failed safety scan",
			"family", string(family),
			"error", err.Error(),
		)
		return nil, err
	}

	g.log.Debug("script generated",
		"family", string(family),
		"bytes", len(body),
	)

	return &Script{Family: family, Body: body, Imports: imports}, nil
}

// Classify resolves a topic to its template family. It never fails:
// topics without a specific match use the general template.
func Classify(topic string) Family {
	lower := strings.ToLower(topic)
	for _, bucket := range familyKeywords {
		for _, kw := range bucket.keywords {
			if strings.Contains(lower, kw) {
				return bucket.family
			}
		}
	}
	return FamilyGeneral
}

// displayTitle converts the underscore slug back into a printable
// title and strips anything that could escape a Python string literal.
func displayTitle(sanitized string) string {
	t := strings.ReplaceAll(sanitized, "_", " ")
	t = titleCleaner.ReplaceAllString(t, "")
	if len(t) > 100 {
		t = t[:100]
	}
	t = strings.TrimSpace(t)
	if t == "" {
		return "Mathematical Concept"
	}
	return t
}

var titleCleaner = regexp.MustCompile("[<>'\"`;\\\\\r\n{}]")

func fillTemplate(family Family, title string) (string, error) {
	tmpl, ok := templates[family]
	if !ok {
		tmpl = templates[FamilyGeneral]
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, map[string]string{"Topic": title}); err != nil {
		return "", err
	}
	return b.String(), nil
}

// scanImports collects the top-level module of every import statement.
func scanImports(body string) []string {
	var out []string
	seen := map[string]bool{}
	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			continue
		}
		if fields[0] != "import" && fields[0] != "from" {
			continue
		}
		module := strings.SplitN(fields[1], ".", 2)[0]
		if !seen[module] {
			seen[module] = true
			out = append(out, module)
		}
	}
	return out
}

// checkPolicy enforces the import allowlist and the forbidden-construct
// set over the generated source.
func checkPolicy(body string, imports []string) error {
	for _, module := range imports {
		if !allowedImports[module] {
			return errors.UnsafeContent("import outside allowlist: " + module)
		}
	}
	for _, re := range forbiddenConstructs {
		if loc := re.FindString(body); loc != "" {
			return errors.UnsafeContent("forbidden construct: " + loc)
		}
	}
	return nil
}

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

var templates = map[Family]*template.Template{
	FamilyPhysicsMotion:   mustTemplate("physics_motion", physicsMotionTemplate),
	FamilyMathEquation:    mustTemplate("math_equation", mathEquationTemplate),
	FamilyGeometry:        mustTemplate("geometry", geometryTemplate),
	FamilyBiologyProcess:  mustTemplate("biology_process", biologyProcessTemplate),
	FamilyComputerScience: mustTemplate("computer_science", computerScienceTemplate),
	FamilyGeneral:         mustTemplate("general_educational", generalTemplate),
}

const physicsMotionTemplate = `from manim import *
import numpy as np

class EducationalVideo(Scene):
    def construct(self):
        title = Text("{{.Topic}}", font_size=48, color=BLUE)
        self.play(Write(title))
        self.wait(1)
        self.play(title.animate.to_edge(UP))

        axes = Axes(
            x_range=[-4, 4, 1],
            y_range=[-3, 3, 1],
            axis_config={"color": GRAY},
        )
        self.play(Create(axes))

        dot = Dot(color=RED, radius=0.1)
        path = axes.plot(lambda x: 2 * np.sin(x), color=YELLOW)

        self.play(Create(path))
        self.play(MoveAlongPath(dot, path, rate_func=linear), run_time=6)

        explanation = Text("Motion follows mathematical patterns", font_size=24)
        explanation.to_edge(DOWN)
        self.play(Write(explanation))
        self.wait(2)

        self.play(FadeOut(Group(*self.mobjects)))
`

const mathEquationTemplate = `from manim import *
import numpy as np

class EducationalVideo(Scene):
    def construct(self):
        title = Text("{{.Topic}}", font_size=48, color=BLUE)
        self.play(Write(title))
        self.wait(1)
        self.play(title.animate.to_edge(UP))

        equation = MathTex(r"f(x) = ax^2 + bx + c", font_size=60)
        self.play(Write(equation))
        self.wait(2)

        specific = MathTex(r"f(x) = x^2 - 4x + 3", font_size=60)
        self.play(Transform(equation, specific))
        self.wait(2)

        axes = Axes(x_range=[-1, 5, 1], y_range=[-2, 6, 1])
        graph = axes.plot(lambda x: x * x - 4 * x + 3, color=YELLOW)

        self.play(equation.animate.to_edge(UP))
        self.play(Create(axes))
        self.play(Create(graph))

        vertex = Dot(axes.c2p(2, -1), color=RED)
        vertex_label = Text("Vertex", font_size=24).next_to(vertex, DOWN)

        self.play(Create(vertex), Write(vertex_label))
        self.wait(2)

        self.play(FadeOut(Group(*self.mobjects)))
`

const geometryTemplate = `from manim import *
import numpy as np

class EducationalVideo(Scene):
    def construct(self):
        title = Text("{{.Topic}}", font_size=48, color=BLUE)
        self.play(Write(title))
        self.wait(1)
        self.play(title.animate.to_edge(UP))

        triangle = Triangle(color=YELLOW, fill_opacity=0.3)
        circle = Circle(radius=1.5, color=GREEN, fill_opacity=0.2)
        square = Square(side_length=2, color=RED, fill_opacity=0.2)

        shapes = Group(triangle, circle, square).arrange(RIGHT, buff=1)

        self.play(Create(triangle))
        self.wait(0.5)
        self.play(Create(circle))
        self.wait(0.5)
        self.play(Create(square))
        self.wait(1)

        self.play(shapes.animate.scale(0.7).to_edge(LEFT))

        formulas = VGroup(
            MathTex(r"A = \frac{bh}{2}", font_size=36),
            MathTex(r"A = \pi r^2", font_size=36),
            MathTex(r"A = s^2", font_size=36),
        ).arrange(DOWN, aligned_edge=LEFT).to_edge(RIGHT)

        for formula in formulas:
            self.play(Write(formula))
            self.wait(0.5)

        self.wait(2)
        self.play(FadeOut(Group(*self.mobjects)))
`

const biologyProcessTemplate = `from manim import *
import numpy as np

class EducationalVideo(Scene):
    def construct(self):
        title = Text("{{.Topic}}", font_size=48, color=GREEN)
        self.play(Write(title))
        self.wait(1)
        self.play(title.animate.to_edge(UP))

        start = Circle(radius=0.5, color=BLUE, fill_opacity=0.7)
        start_label = Text("Start", font_size=20).move_to(start)

        arrow1 = Arrow(start.get_right(), start.get_right() + RIGHT * 2)

        middle = Rectangle(width=1.5, height=1, color=YELLOW, fill_opacity=0.5)
        middle.next_to(arrow1, RIGHT)
        middle_label = Text("Process", font_size=18).move_to(middle)

        arrow2 = Arrow(middle.get_right(), middle.get_right() + RIGHT * 2)

        end = Circle(radius=0.5, color=RED, fill_opacity=0.7)
        end.next_to(arrow2, RIGHT)
        end_label = Text("Result", font_size=20).move_to(end)

        self.play(Create(start), Write(start_label))
        self.wait(0.5)
        self.play(GrowArrow(arrow1))
        self.play(Create(middle), Write(middle_label))
        self.wait(0.5)
        self.play(GrowArrow(arrow2))
        self.play(Create(end), Write(end_label))

        description = Text("Biological processes follow systematic steps",
                           font_size=24).to_edge(DOWN)
        self.play(Write(description))

        self.wait(2)
        self.play(FadeOut(Group(*self.mobjects)))
`

const computerScienceTemplate = `from manim import *
import numpy as np

class EducationalVideo(Scene):
    def construct(self):
        title = Text("{{.Topic}}", font_size=48, color=TEAL)
        self.play(Write(title))
        self.wait(1)
        self.play(title.animate.to_edge(UP))

        values = [3, 8, 1, 5, 7, 2]
        bars = VGroup()
        for v in values:
            bar = Rectangle(width=0.6, height=v * 0.4, color=BLUE, fill_opacity=0.6)
            label = Text(str(v), font_size=20).next_to(bar, DOWN)
            bars.add(VGroup(bar, label))
        bars.arrange(RIGHT, buff=0.4, aligned_edge=DOWN)

        self.play(Create(bars))
        self.wait(1)

        pointer = Arrow(UP, DOWN, color=YELLOW).scale(0.5)
        pointer.next_to(bars[0], UP)
        self.play(GrowArrow(pointer))

        for i in range(1, len(values)):
            self.play(pointer.animate.next_to(bars[i], UP), run_time=0.5)

        caption = Text("Algorithms process data step by step",
                       font_size=24).to_edge(DOWN)
        self.play(Write(caption))

        self.wait(2)
        self.play(FadeOut(Group(*self.mobjects)))
`

const generalTemplate = `from manim import *
import numpy as np

class EducationalVideo(Scene):
    def construct(self):
        title = Text("{{.Topic}}", font_size=48, color=PURPLE)
        self.play(Write(title))
        self.wait(2)

        subtitle = Text("An Educational Exploration", font_size=32, color=GRAY)
        subtitle.next_to(title, DOWN)
        self.play(Write(subtitle))
        self.wait(1)

        self.play(Group(title, subtitle).animate.to_edge(UP))

        concepts = VGroup()
        for i in range(3):
            concept = Circle(radius=0.8, color=BLUE, fill_opacity=0.3)
            concept_text = Text("Concept " + str(i + 1), font_size=20).move_to(concept)
            concepts.add(Group(concept, concept_text))

        concepts.arrange(RIGHT, buff=1)

        for concept in concepts:
            self.play(Create(concept))
            self.wait(0.5)

        connections = VGroup()
        for i in range(len(concepts) - 1):
            line = Line(concepts[i].get_right(), concepts[i + 1].get_left())
            connections.add(line)

        self.play(Create(connections))

        conclusion = Text("Understanding leads to knowledge",
                          font_size=28, color=GOLD).to_edge(DOWN)
        self.play(Write(conclusion))

        self.wait(2)
        self.play(FadeOut(Group(*self.mobjects)))
`
