package field

// Well-known variable names shared by the built-in blocks.
const (
	StreamFunction      = "stream_function"
	VelocityPotential   = "velocity_potential"
	EastwardWind        = "eastward_wind"
	NorthwardWind       = "northward_wind"
	GeostrophicPressure = "geostrophic_pressure"
	HydrostaticPressure = "hydrostatic_pressure"
	UnbalancedPressure  = "unbalanced_pressure"
	AirPressure         = "air_pressure"
	AirTemperature      = "air_temperature"
)
