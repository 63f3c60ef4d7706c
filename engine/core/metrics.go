package core

const metricsAvgCount = 30

// FrameMetrics averages frame times over a short window and counts frames
// per second. It belongs to the thread running the frame loop.
type FrameMetrics struct {
	frameAvgCounter    int
	msTimes            [metricsAvgCount]float64
	msAvg              float64
	frames             int
	accumulatedFrameMS float64
	fps                float64
}

// Update records a frame that took frameElapsed seconds. It reports true
// when a new FPS value is available.
func (m *FrameMetrics) Update(frameElapsed float64) bool {
	// Calculate frame ms average
	frameMS := frameElapsed * 1000.0
	m.msTimes[m.frameAvgCounter] = frameMS
	if m.frameAvgCounter == metricsAvgCount-1 {
		var sum float64
		for _, t := range m.msTimes {
			sum += t
		}
		m.msAvg = sum / metricsAvgCount
	}
	m.frameAvgCounter = (m.frameAvgCounter + 1) % metricsAvgCount

	// Count all frames.
	m.frames++

	// Calculate frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
		return true
	}
	return false
}

func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

// FrameTime is the average frame time in milliseconds.
func (m *FrameMetrics) FrameTime() float64 {
	return m.msAvg
}
