package careduce

import(
	"fmt"

	"github.com/fogleman/gg" // Move to https://pkg.go.dev/golang.org/x/image/font#Drawer sometime

	"github.com/abworrall/careduce/pkg/emath"
)

// DumpDetections draws circles over each detection (sized by radius),
// and a line from each paired target star to where its reference
// star is. Handy for seeing why a channel didn't match.
func DumpDetections(g emath.FloatGrid, dets []Detection, pairs []Pair, title, filename string) error {
	dc := gg.NewContextForImage(g.ToGray())

	dc.SetLineWidth(1)
	dc.SetRGB(1, 0.2, 0.2)
	for _, d := range dets {
		r := 3.0 * d.Radius
		if r < 4 { r = 4 }
		dc.DrawCircle(d.X, d.Y, r)
		dc.Stroke()
	}

	dc.SetRGB(0.2, 1, 0.2)
	for _, p := range pairs {
		dc.DrawLine(p.Target.X, p.Target.Y, p.Ref.X, p.Ref.Y)
		dc.Stroke()
		dc.DrawCircle(p.Ref.X, p.Ref.Y, 2)
		dc.Stroke()
	}

	dc.SetRGB(1, 1, 1)
	dc.DrawString(fmt.Sprintf("%s: %d stars, %d pairs", title, len(dets), len(pairs)), 20, 20)
	return dc.SavePNG(filename)
}
