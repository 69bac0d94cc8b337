package generator

var defaultNames = []string{
	"Permian Basin Frac",
	"Eagle Ford Injection",
	"Bakken Recycling",
	"Midland Disposal",
	"Delaware Flowback",
	"Haynesville Completion",
	"Marcellus Treatment",
	"Anadarko Storage",
	"Barnett Irrigation",
	"Spraberry Drilling",
	"Wolfcamp Frac",
	"Niobrara Reuse",
	"Uinta Evaporation",
	"San Juan Cooling",
	"Powder River Pipeline",
	"Denver Julesburg Frac",
	"Fayetteville Disposal",
	"Utica Recycling",
	"Austin Chalk Injection",
	"Woodford Completion",
	"Cotton Valley Storage",
	"Granite Wash Treatment",
	"Bone Spring Drilling",
	"Avalon Flowback",
	"Mississippian Lime Reuse",
	"Tuscaloosa Cooling",
	"Green River Desalination",
	"Williston Pipeline",
}
